// Sync status and queue management endpoints.
//
//   - GET    /status                 (sync status read model)
//   - GET    /actions                (ordered queue snapshot, paginated)
//   - POST   /actions/{id}/cancel    (cancel a still-pending action)
//   - POST   /actions/{id}/retry     (re-arm a terminally failed action)
//   - DELETE /actions/{id}           (discard a terminally failed action)
//
// Handlers are transport-thin: validate input, call the service, translate
// results (including queue lifecycle violations) into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rosterly/shiftsync/internal/domain"
	"github.com/rosterly/shiftsync/internal/queue"
	"github.com/rosterly/shiftsync/internal/status"
	"github.com/rosterly/shiftsync/internal/utils"
)

//
// Service contracts
//

// OfflineService defines the application operations consumed by the loopback
// API. Implementations must be safe for concurrent use and honor ctx.
type OfflineService interface {
	DownloadSchedules(ctx context.Context, start, end string) ([]domain.Schedule, error)
	CacheNotifications(ctx context.Context) ([]domain.Notification, error)
	RefreshRequests(ctx context.Context) ([]domain.LeaveRequest, error)

	OfflineData() (*domain.OfflineDataset, error)
	OfflineSchedules() (domain.Snapshot[domain.Schedule], error)
	OfflineRequests() (domain.Snapshot[domain.LeaveRequest], error)
	OfflineNotifications() (domain.Snapshot[domain.Notification], error)

	SaveDraftRequest(req domain.LeaveRequest) (*domain.LeaveRequest, error)
	SubmitRequest(ctx context.Context, req domain.LeaveRequest, clientKey string) (*domain.PendingAction, error)
	UpdateProfile(ctx context.Context, p domain.Profile, clientKey string) (*domain.PendingAction, error)
	MarkNotificationRead(ctx context.Context, notificationID string) (*domain.PendingAction, error)

	ListActions() []domain.PendingAction
	CancelPendingAction(id string) error
	RetryAction(id string) error
	DiscardAction(id string) error
	ClearOfflineData() error
}

// StatusReader produces the status read model.
type StatusReader interface {
	Snapshot() status.Snapshot
	Describe(a *domain.PendingAction) string
}

// Handlers groups the loopback API endpoints.
type Handlers struct {
	svc    OfflineService
	status StatusReader
}

// New constructs a Handlers bound to the given service and status reader.
func New(svc OfflineService, st StatusReader) *Handlers {
	return &Handlers{svc: svc, status: st}
}

//
// DTOs
//

// ActionView is a queued action decorated with its human description.
type ActionView struct {
	domain.PendingAction
	Description string `json:"description"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

// ListActionsResponse wraps a page of actions and pagination information.
type ListActionsResponse struct {
	Actions    []ActionView `json:"actions"`
	Pagination Pagination   `json:"pagination"`
}

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// GetStatus returns the sync status read model.
func (h *Handlers) GetStatus(c *gin.Context) {
	ok(c, http.StatusOK, h.status.Snapshot())
}

// ListActions returns the ordered queue snapshot, paginated.
func (h *Handlers) ListActions(c *gin.Context) {
	page, pageSize := clampPagination(c)
	all := h.svc.ListActions()

	total := len(all)
	totalPages := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	views := make([]ActionView, 0, end-start)
	for i := start; i < end; i++ {
		a := all[i]
		views = append(views, ActionView{PendingAction: a, Description: h.status.Describe(&a)})
	}

	ok(c, http.StatusOK, ListActionsResponse{
		Actions: views,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// actionID validates the :id path parameter.
func actionID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "action id must be a UUID")
		return "", false
	}
	return id, true
}

// queueFail maps queue sentinel errors to HTTP results.
func queueFail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "action not found")
	case errors.Is(err, queue.ErrInvalidState):
		fail(c, http.StatusConflict, ErrCodeInvalidState, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeQueueFailed, err.Error())
	}
}

// CancelAction cancels a still-pending action. Cancelling anything past
// Pending is a lifecycle violation and returns 409 invalid_state.
func (h *Handlers) CancelAction(c *gin.Context) {
	id, okID := actionID(c)
	if !okID {
		return
	}
	if err := h.svc.CancelPendingAction(id); err != nil {
		queueFail(c, err)
		return
	}
	noContent(c)
}

// RetryAction re-arms a terminally failed action with a fresh retry budget.
func (h *Handlers) RetryAction(c *gin.Context) {
	id, okID := actionID(c)
	if !okID {
		return
	}
	if err := h.svc.RetryAction(id); err != nil {
		queueFail(c, err)
		return
	}
	noContent(c)
}

// DiscardAction drops a terminally failed action.
func (h *Handlers) DiscardAction(c *gin.Context) {
	id, okID := actionID(c)
	if !okID {
		return
	}
	if err := h.svc.DiscardAction(id); err != nil {
		queueFail(c, err)
		return
	}
	noContent(c)
}
