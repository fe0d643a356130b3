// Package services – OfflineService
//
// This file implements OfflineService, the application-level component behind
// the UI-facing surface: downloading snapshots for offline use, drafting and
// submitting requests, marking notifications read, updating the profile, and
// managing queued actions (cancel, retry, discard).
//
// Writes are optimistic: the local dataset is updated and the mutation is
// queued durably before the call returns, so the UI shows the change
// immediately and tags it "pending sync". The engine reconciles it with the
// server later; on terminal failure the optimistic entry stays flagged rather
// than being silently reverted, leaving the rollback decision to the UI.
//
// Observability: public methods that talk to the network are
// OpenTelemetry-instrumented.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rosterly/shiftsync/internal/domain"
	"github.com/rosterly/shiftsync/internal/queue"
	"github.com/rosterly/shiftsync/internal/remote"
	"github.com/rosterly/shiftsync/internal/store"
)

// allowed request kinds
var requestKinds = map[string]struct{}{
	"vacation":     {},
	"sick":         {},
	"shift_change": {},
	"unpaid":       {},
}

// Notifier nudges the replay loop after an enqueue. The engine satisfies it;
// tests substitute a recorder.
type Notifier interface {
	Notify()
}

// OfflineService coordinates the offline dataset, the mutation queue, and the
// remote client on behalf of the UI layer.
type OfflineService struct {
	Queue   *queue.Queue
	Dataset *store.DatasetStore
	Client  remote.Client
	// Notify is poked after every enqueue so an online engine drains
	// immediately. Optional.
	Notify Notifier
	Log    zerolog.Logger
}

// notify pokes the engine when wired.
func (s *OfflineService) notify() {
	if s.Notify != nil {
		s.Notify.Notify()
	}
}

//
// Snapshot downloads (read path)
//

// DownloadSchedules fetches the date-bounded schedule snapshot and replaces
// the cached one wholesale. On any error the previous snapshot is left
// intact; a failed fetch never partially overwrites cached data.
func (s *OfflineService) DownloadSchedules(ctx context.Context, start, end string) ([]domain.Schedule, error) {
	tr := otel.Tracer("services/OfflineService")
	ctx, span := tr.Start(ctx, "DownloadSchedules",
		trace.WithAttributes(attribute.String("range.start", start), attribute.String("range.end", end)),
	)
	defer span.End()

	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	items, err := s.Client.FetchSchedules(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("download schedules: %w", err)
	}
	now := time.Now().UTC()
	err = s.Dataset.Update(func(ds *domain.OfflineDataset) error {
		ds.Schedules = domain.Snapshot[domain.Schedule]{Data: items, FetchedAt: now}
		ds.LastSync = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// CacheNotifications fetches the current notification snapshot for offline
// reading, with the same no-partial-overwrite guarantee as schedules.
func (s *OfflineService) CacheNotifications(ctx context.Context) ([]domain.Notification, error) {
	tr := otel.Tracer("services/OfflineService")
	ctx, span := tr.Start(ctx, "CacheNotifications")
	defer span.End()

	items, err := s.Client.FetchNotifications(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache notifications: %w", err)
	}
	now := time.Now().UTC()
	err = s.Dataset.Update(func(ds *domain.OfflineDataset) error {
		ds.Notifications = domain.Snapshot[domain.Notification]{Data: items, FetchedAt: now}
		ds.LastSync = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// RefreshRequests fetches the authoritative request list.
func (s *OfflineService) RefreshRequests(ctx context.Context) ([]domain.LeaveRequest, error) {
	tr := otel.Tracer("services/OfflineService")
	ctx, span := tr.Start(ctx, "RefreshRequests")
	defer span.End()

	items, err := s.Client.FetchRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh requests: %w", err)
	}
	now := time.Now().UTC()
	err = s.Dataset.Update(func(ds *domain.OfflineDataset) error {
		ds.Requests = domain.Snapshot[domain.LeaveRequest]{Data: items, FetchedAt: now}
		ds.LastSync = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

//
// Cached reads
//

// OfflineData returns the full cached dataset.
func (s *OfflineService) OfflineData() (*domain.OfflineDataset, error) {
	return s.Dataset.Load()
}

// OfflineSchedules returns the cached schedule snapshot.
func (s *OfflineService) OfflineSchedules() (domain.Snapshot[domain.Schedule], error) {
	ds, err := s.Dataset.Load()
	if err != nil {
		return domain.Snapshot[domain.Schedule]{}, err
	}
	return ds.Schedules, nil
}

// OfflineRequests returns the cached request snapshot.
func (s *OfflineService) OfflineRequests() (domain.Snapshot[domain.LeaveRequest], error) {
	ds, err := s.Dataset.Load()
	if err != nil {
		return domain.Snapshot[domain.LeaveRequest]{}, err
	}
	return ds.Requests, nil
}

// OfflineNotifications returns the cached notification snapshot.
func (s *OfflineService) OfflineNotifications() (domain.Snapshot[domain.Notification], error) {
	ds, err := s.Dataset.Load()
	if err != nil {
		return domain.Snapshot[domain.Notification]{}, err
	}
	return ds.Notifications, nil
}

//
// Write path (optimistic + queued)
//

// SaveDraftRequest stores a draft locally without queueing anything. Drafts
// never touch the network until explicitly submitted.
func (s *OfflineService) SaveDraftRequest(req domain.LeaveRequest) (*domain.LeaveRequest, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	req.ID = uuid.NewString()
	req.Status = "draft"
	req.CreatedAt = time.Now().UTC()
	err := s.Dataset.Update(func(ds *domain.OfflineDataset) error {
		ds.Drafts = append(ds.Drafts, req)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// SubmitRequest queues a leave/shift-change request for delivery and applies
// the optimistic local entry. The returned action id is the idempotency key
// the server will eventually see. clientKey optionally dedupes shell retries:
// if an action already carries that key, it is returned instead of enqueueing
// a duplicate.
func (s *OfflineService) SubmitRequest(ctx context.Context, req domain.LeaveRequest, clientKey string) (*domain.PendingAction, error) {
	_, span := otel.Tracer("services/OfflineService").Start(ctx, "SubmitRequest")
	defer span.End()

	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	if existing := s.Queue.FindByClientKey(clientKey); existing != nil {
		return existing, nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	action, err := s.Queue.Enqueue(domain.KindCreateRequest, payload, clientKey)
	if err != nil {
		return nil, err
	}

	// Optimistic entry: visible immediately, flagged until confirmed. The
	// entry borrows the action id so the engine can swap in the
	// server-assigned record on success.
	optimistic := req
	optimistic.ID = action.ID
	optimistic.Status = "pending"
	optimistic.PendingSync = true
	optimistic.CreatedAt = action.CreatedAt
	err = s.Dataset.Update(func(ds *domain.OfflineDataset) error {
		ds.Requests.Data = append(ds.Requests.Data, optimistic)
		return nil
	})
	if err != nil {
		s.Log.Error().Err(err).Str("action_id", action.ID).Msg("optimistic request write failed")
	}

	s.notify()
	return action, nil
}

// UpdateProfile queues a profile update and applies it optimistically.
func (s *OfflineService) UpdateProfile(ctx context.Context, p domain.Profile, clientKey string) (*domain.PendingAction, error) {
	_, span := otel.Tracer("services/OfflineService").Start(ctx, "UpdateProfile")
	defer span.End()

	if p.EmployeeID == "" || p.FullName == "" {
		return nil, ErrInvalidProfile
	}
	if existing := s.Queue.FindByClientKey(clientKey); existing != nil {
		return existing, nil
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	action, err := s.Queue.Enqueue(domain.KindUpdateProfile, payload, clientKey)
	if err != nil {
		return nil, err
	}

	err = s.Dataset.Update(func(ds *domain.OfflineDataset) error {
		cp := p
		ds.Profile = &cp
		return nil
	})
	if err != nil {
		s.Log.Error().Err(err).Str("action_id", action.ID).Msg("optimistic profile write failed")
	}

	s.notify()
	return action, nil
}

// MarkNotificationRead queues a mark-read mutation and flips the cached
// notification immediately.
func (s *OfflineService) MarkNotificationRead(ctx context.Context, notificationID string) (*domain.PendingAction, error) {
	_, span := otel.Tracer("services/OfflineService").Start(ctx, "MarkNotificationRead")
	defer span.End()

	if notificationID == "" {
		return nil, ErrEmptyNotificationID
	}
	payload, err := json.Marshal(map[string]string{"notification_id": notificationID})
	if err != nil {
		return nil, err
	}
	action, err := s.Queue.Enqueue(domain.KindMarkNotificationRead, payload, "")
	if err != nil {
		return nil, err
	}

	err = s.Dataset.Update(func(ds *domain.OfflineDataset) error {
		for i := range ds.Notifications.Data {
			if ds.Notifications.Data[i].ID == notificationID {
				ds.Notifications.Data[i].Read = true
			}
		}
		return nil
	})
	if err != nil {
		s.Log.Error().Err(err).Str("action_id", action.ID).Msg("optimistic mark-read failed")
	}

	s.notify()
	return action, nil
}

//
// Queue management
//

// ListActions returns all queued actions in order.
func (s *OfflineService) ListActions() []domain.PendingAction {
	return s.Queue.List()
}

// CancelPendingAction removes a still-pending action and rolls back its
// optimistic request entry, guaranteeing no network call is ever made for it.
// Cancelling an in-flight or terminal action returns queue.ErrInvalidState.
func (s *OfflineService) CancelPendingAction(id string) error {
	a, err := s.Queue.Get(id)
	if err != nil {
		return err
	}
	if err := s.Queue.Cancel(id); err != nil {
		return err
	}
	s.rollbackOptimistic(a)
	return nil
}

// RetryAction returns a terminally failed action to the queue with a fresh
// retry budget (the user acknowledgment path).
func (s *OfflineService) RetryAction(id string) error {
	if err := s.Queue.Retry(id); err != nil {
		return err
	}
	s.notify()
	return nil
}

// DiscardAction drops a terminally failed action and rolls back its
// optimistic entry.
func (s *OfflineService) DiscardAction(id string) error {
	a, err := s.Queue.Get(id)
	if err != nil {
		return err
	}
	if err := s.Queue.Discard(id); err != nil {
		return err
	}
	s.rollbackOptimistic(a)
	return nil
}

// rollbackOptimistic removes the dataset entry that mirrored a now-abandoned
// action. Only create_request has a removable entry; profile and mark-read
// optimism is left standing for the next authoritative fetch to reconcile.
func (s *OfflineService) rollbackOptimistic(a *domain.PendingAction) {
	if a.Kind != domain.KindCreateRequest {
		return
	}
	err := s.Dataset.Update(func(ds *domain.OfflineDataset) error {
		kept := ds.Requests.Data[:0]
		for _, r := range ds.Requests.Data {
			if r.ID != a.ID {
				kept = append(kept, r)
			}
		}
		ds.Requests.Data = kept
		return nil
	})
	if err != nil {
		s.Log.Error().Err(err).Str("action_id", a.ID).Msg("optimistic rollback failed")
	}
}

// ClearOfflineData wipes cached snapshots and drafts. Queued mutations are
// deliberately untouched: clearing caches must never lose writes.
func (s *OfflineService) ClearOfflineData() error {
	return s.Dataset.Clear()
}

//
// validation helpers
//

// validateRequest checks the user-supplied fields of a request.
func validateRequest(req *domain.LeaveRequest) error {
	if req.EmployeeID == "" {
		return fmt.Errorf("%w: employee id required", ErrInvalidRequest)
	}
	if _, ok := requestKinds[req.Kind]; !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}
	return validateRange(req.From, req.To)
}

// validateRange checks YYYY-MM-DD bounds ordering.
func validateRange(start, end string) error {
	from, err := time.Parse("2006-01-02", start)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDateRange, start)
	}
	to, err := time.Parse("2006-01-02", end)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDateRange, end)
	}
	if to.Before(from) {
		return fmt.Errorf("%w: %s after %s", ErrInvalidDateRange, start, end)
	}
	return nil
}
