// Offline data endpoints.
//
//   - GET    /schedules               (cached schedule snapshot)
//   - POST   /schedules/refresh       (download a date-bounded snapshot)
//   - GET    /requests                (cached request snapshot)
//   - POST   /requests                (submit; optimistic + queued)
//   - POST   /requests/drafts         (save a draft locally)
//   - GET    /notifications           (cached notification snapshot)
//   - POST   /notifications/refresh   (cache the current notifications)
//   - POST   /notifications/{id}/read (mark read; optimistic + queued)
//   - PUT    /profile                 (update profile; optimistic + queued)
//   - DELETE /offline-data            (clear cached snapshots and drafts)
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rosterly/shiftsync/internal/domain"
	"github.com/rosterly/shiftsync/internal/http/middleware"
	"github.com/rosterly/shiftsync/internal/services"
)

// SubmitRequestBody is the JSON payload for submitting a request.
type SubmitRequestBody struct {
	EmployeeID string `json:"employee_id" binding:"required"`
	Kind       string `json:"kind" binding:"required"`
	From       string `json:"from" binding:"required"`
	To         string `json:"to" binding:"required"`
	Reason     string `json:"reason"`
}

func (b SubmitRequestBody) toDomain() domain.LeaveRequest {
	return domain.LeaveRequest{
		EmployeeID: strings.TrimSpace(b.EmployeeID),
		Kind:       strings.TrimSpace(b.Kind),
		From:       strings.TrimSpace(b.From),
		To:         strings.TrimSpace(b.To),
		Reason:     strings.TrimSpace(b.Reason),
	}
}

// UpdateProfileBody is the JSON payload for a profile update.
type UpdateProfileBody struct {
	EmployeeID string `json:"employee_id" binding:"required"`
	FullName   string `json:"full_name" binding:"required"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
}

// serviceFail maps service sentinel errors to HTTP results.
func serviceFail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidRequest),
		errors.Is(err, services.ErrInvalidDateRange),
		errors.Is(err, services.ErrInvalidProfile),
		errors.Is(err, services.ErrEmptyNotificationID):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// GetSchedules returns the cached schedule snapshot.
func (h *Handlers) GetSchedules(c *gin.Context) {
	snap, err := h.svc.OfflineSchedules()
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, snap)
}

// RefreshSchedules downloads a date-bounded schedule snapshot. A failed
// download keeps the previous snapshot and reports 502.
func (h *Handlers) RefreshSchedules(c *gin.Context) {
	start := c.Query("start")
	end := c.Query("end")
	items, err := h.svc.DownloadSchedules(c.Request.Context(), start, end)
	if err != nil {
		if errors.Is(err, services.ErrInvalidDateRange) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		fail(c, http.StatusBadGateway, ErrCodeFetchFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"count": len(items)})
}

// GetRequests returns the cached request snapshot.
func (h *Handlers) GetRequests(c *gin.Context) {
	snap, err := h.svc.OfflineRequests()
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, snap)
}

// SubmitRequest queues a leave/shift-change request. The optional
// Idempotency-Key header absorbs shell retries: a replayed key returns the
// originally queued action with 200 instead of enqueueing again (201).
func (h *Handlers) SubmitRequest(c *gin.Context) {
	var body SubmitRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	clientKey, _ := middleware.GetIdempotencyKey(c)
	replay := middleware.IsReplay(c)

	action, err := h.svc.SubmitRequest(c.Request.Context(), body.toDomain(), clientKey)
	if err != nil {
		serviceFail(c, err)
		return
	}
	if replay {
		ok(c, http.StatusOK, action)
		return
	}
	ok(c, http.StatusCreated, action)
}

// SaveDraft stores a request draft locally; nothing is queued.
func (h *Handlers) SaveDraft(c *gin.Context) {
	var body SubmitRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	draft, err := h.svc.SaveDraftRequest(body.toDomain())
	if err != nil {
		serviceFail(c, err)
		return
	}
	ok(c, http.StatusCreated, draft)
}

// GetNotifications returns the cached notification snapshot.
func (h *Handlers) GetNotifications(c *gin.Context) {
	snap, err := h.svc.OfflineNotifications()
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, snap)
}

// RefreshNotifications caches the current notification snapshot.
func (h *Handlers) RefreshNotifications(c *gin.Context) {
	items, err := h.svc.CacheNotifications(c.Request.Context())
	if err != nil {
		fail(c, http.StatusBadGateway, ErrCodeFetchFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"count": len(items)})
}

// MarkNotificationRead queues a mark-read mutation for the notification.
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	action, err := h.svc.MarkNotificationRead(c.Request.Context(), id)
	if err != nil {
		serviceFail(c, err)
		return
	}
	ok(c, http.StatusAccepted, action)
}

// UpdateProfile queues a profile update.
func (h *Handlers) UpdateProfile(c *gin.Context) {
	var body UpdateProfileBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	clientKey, _ := middleware.GetIdempotencyKey(c)

	p := domain.Profile{
		EmployeeID: strings.TrimSpace(body.EmployeeID),
		FullName:   strings.TrimSpace(body.FullName),
		Email:      strings.TrimSpace(body.Email),
		Phone:      strings.TrimSpace(body.Phone),
	}
	action, err := h.svc.UpdateProfile(c.Request.Context(), p, clientKey)
	if err != nil {
		serviceFail(c, err)
		return
	}
	ok(c, http.StatusAccepted, action)
}

// ClearOfflineData wipes cached snapshots and drafts. Queued mutations
// survive; only explicit cancel/discard can drop those.
func (h *Handlers) ClearOfflineData(c *gin.Context) {
	if err := h.svc.ClearOfflineData(); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
