package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rosterly/shiftsync/internal/domain"
	"github.com/rosterly/shiftsync/internal/queue"
	"github.com/rosterly/shiftsync/internal/remote"
	"github.com/rosterly/shiftsync/internal/store"
)

// fakeRemote scripts the fetch surface and counts replay calls (which the
// service itself must never trigger).
type fakeRemote struct {
	mu            sync.Mutex
	schedules     []domain.Schedule
	requests      []domain.LeaveRequest
	notifications []domain.Notification
	fetchErr      error
	replays       int
}

func (f *fakeRemote) Replay(ctx context.Context, a *domain.PendingAction) remote.Outcome {
	f.mu.Lock()
	f.replays++
	f.mu.Unlock()
	return remote.Success(200, nil)
}

func (f *fakeRemote) FetchSchedules(ctx context.Context, start, end string) ([]domain.Schedule, error) {
	return f.schedules, f.fetchErr
}

func (f *fakeRemote) FetchRequests(ctx context.Context) ([]domain.LeaveRequest, error) {
	return f.requests, f.fetchErr
}

func (f *fakeRemote) FetchNotifications(ctx context.Context) ([]domain.Notification, error) {
	return f.notifications, f.fetchErr
}

// recordingNotifier counts engine nudges.
type recordingNotifier struct {
	mu sync.Mutex
	n  int
}

func (r *recordingNotifier) Notify() {
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func newService(t *testing.T) (*OfflineService, *fakeRemote, *recordingNotifier) {
	t.Helper()
	mem := store.NewMemoryStore()
	q, err := queue.New(mem, 0)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	client := &fakeRemote{}
	notifier := &recordingNotifier{}
	svc := &OfflineService{
		Queue:   q,
		Dataset: store.NewDatasetStore(mem),
		Client:  client,
		Notify:  notifier,
	}
	return svc, client, notifier
}

func validRequest() domain.LeaveRequest {
	return domain.LeaveRequest{
		EmployeeID: "emp1",
		Kind:       "vacation",
		From:       "2026-09-07",
		To:         "2026-09-11",
		Reason:     "family trip",
	}
}

func TestDownloadSchedules_CachesSnapshot(t *testing.T) {
	svc, client, _ := newService(t)
	client.schedules = []domain.Schedule{{ID: "s1", EmployeeID: "emp1", Date: "2026-09-01"}}

	items, err := svc.DownloadSchedules(context.Background(), "2026-09-01", "2026-09-30")
	if err != nil {
		t.Fatalf("DownloadSchedules: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %+v", items)
	}

	snap, err := svc.OfflineSchedules()
	if err != nil {
		t.Fatalf("OfflineSchedules: %v", err)
	}
	if !snap.Present() || len(snap.Data) != 1 || snap.Data[0].ID != "s1" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestDownloadSchedules_InvalidRange(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.DownloadSchedules(context.Background(), "2026-09-30", "2026-09-01"); !errors.Is(err, ErrInvalidDateRange) {
		t.Fatalf("err = %v; want ErrInvalidDateRange", err)
	}
	if _, err := svc.DownloadSchedules(context.Background(), "not-a-date", "2026-09-01"); !errors.Is(err, ErrInvalidDateRange) {
		t.Fatalf("err = %v; want ErrInvalidDateRange", err)
	}
}

func TestFetchFailure_LeavesPreviousSnapshotIntact(t *testing.T) {
	svc, client, _ := newService(t)
	client.notifications = []domain.Notification{{ID: "n1", Title: "Shift moved"}}

	if _, err := svc.CacheNotifications(context.Background()); err != nil {
		t.Fatalf("CacheNotifications: %v", err)
	}

	client.fetchErr = errors.New("503 from server")
	if _, err := svc.CacheNotifications(context.Background()); err == nil {
		t.Fatalf("expected fetch error")
	}

	snap, _ := svc.OfflineNotifications()
	if len(snap.Data) != 1 || snap.Data[0].ID != "n1" {
		t.Fatalf("failed fetch clobbered cache: %+v", snap)
	}
}

func TestSubmitRequest_QueuesAndAppliesOptimistically(t *testing.T) {
	svc, client, notifier := newService(t)

	action, err := svc.SubmitRequest(context.Background(), validRequest(), "")
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}
	if action.Kind != domain.KindCreateRequest || action.Status != domain.StatusPending {
		t.Fatalf("action = %+v", action)
	}

	// Optimistic entry is visible immediately, flagged, keyed by the action id.
	snap, _ := svc.OfflineRequests()
	if len(snap.Data) != 1 {
		t.Fatalf("requests = %+v", snap.Data)
	}
	got := snap.Data[0]
	if got.ID != action.ID || !got.PendingSync || got.Status != "pending" {
		t.Fatalf("optimistic entry = %+v", got)
	}

	// The service itself never calls the network.
	client.mu.Lock()
	replays := client.replays
	client.mu.Unlock()
	if replays != 0 {
		t.Fatalf("service must not replay; that is the engine's job")
	}
	if notifier.count() != 1 {
		t.Fatalf("engine nudges = %d; want 1", notifier.count())
	}
}

func TestSubmitRequest_Validation(t *testing.T) {
	svc, _, _ := newService(t)

	req := validRequest()
	req.EmployeeID = ""
	if _, err := svc.SubmitRequest(context.Background(), req, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing employee: %v", err)
	}

	req = validRequest()
	req.Kind = "sabbatical"
	if _, err := svc.SubmitRequest(context.Background(), req, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("unknown kind: %v", err)
	}

	req = validRequest()
	req.To = "2026-09-01"
	if _, err := svc.SubmitRequest(context.Background(), req, ""); !errors.Is(err, ErrInvalidDateRange) {
		t.Fatalf("inverted range: %v", err)
	}
	if n := len(svc.ListActions()); n != 0 {
		t.Fatalf("invalid requests must not enqueue, got %d actions", n)
	}
}

func TestSubmitRequest_ClientKeyDedupe(t *testing.T) {
	svc, _, _ := newService(t)

	first, err := svc.SubmitRequest(context.Background(), validRequest(), "form-abc")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := svc.SubmitRequest(context.Background(), validRequest(), "form-abc")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("retried submit enqueued a duplicate: %s vs %s", second.ID, first.ID)
	}
	if n := len(svc.ListActions()); n != 1 {
		t.Fatalf("queue holds %d actions; want 1", n)
	}
}

func TestCancelPendingAction_NoNetworkCallAndRollback(t *testing.T) {
	svc, client, _ := newService(t)

	action, err := svc.SubmitRequest(context.Background(), validRequest(), "")
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}
	if err := svc.CancelPendingAction(action.ID); err != nil {
		t.Fatalf("CancelPendingAction: %v", err)
	}

	if n := len(svc.ListActions()); n != 0 {
		t.Fatalf("queue holds %d actions after cancel", n)
	}
	snap, _ := svc.OfflineRequests()
	if len(snap.Data) != 0 {
		t.Fatalf("optimistic entry survived cancel: %+v", snap.Data)
	}
	client.mu.Lock()
	replays := client.replays
	client.mu.Unlock()
	if replays != 0 {
		t.Fatalf("cancelled action must never reach the network")
	}

	if err := svc.CancelPendingAction("missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("cancel unknown = %v; want queue.ErrNotFound", err)
	}
}

func TestRetryAndDiscard(t *testing.T) {
	svc, _, notifier := newService(t)

	action, err := svc.SubmitRequest(context.Background(), validRequest(), "")
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}

	// Drive the action to terminal failure through the queue lifecycle.
	if err := svc.Queue.MarkInFlight(action.ID); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	if err := svc.Queue.MarkFailedTerminal(action.ID, domain.ActionError{Class: domain.FailureClient, At: time.Now()}); err != nil {
		t.Fatalf("MarkFailedTerminal: %v", err)
	}

	before := notifier.count()
	if err := svc.RetryAction(action.ID); err != nil {
		t.Fatalf("RetryAction: %v", err)
	}
	if notifier.count() != before+1 {
		t.Fatalf("retry must nudge the engine")
	}
	got, _ := svc.Queue.Get(action.ID)
	if got.Status != domain.StatusPending || got.Attempts != 0 {
		t.Fatalf("retried action = %+v", got)
	}

	// Fail again, then discard: queue entry and optimistic entry both go.
	if err := svc.Queue.MarkInFlight(action.ID); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	if err := svc.Queue.MarkFailedTerminal(action.ID, domain.ActionError{Class: domain.FailureClient, At: time.Now()}); err != nil {
		t.Fatalf("MarkFailedTerminal: %v", err)
	}
	if err := svc.DiscardAction(action.ID); err != nil {
		t.Fatalf("DiscardAction: %v", err)
	}
	if n := len(svc.ListActions()); n != 0 {
		t.Fatalf("queue holds %d actions after discard", n)
	}
	snap, _ := svc.OfflineRequests()
	if len(snap.Data) != 0 {
		t.Fatalf("optimistic entry survived discard: %+v", snap.Data)
	}
}

func TestSaveDraftRequest(t *testing.T) {
	svc, _, _ := newService(t)

	draft, err := svc.SaveDraftRequest(validRequest())
	if err != nil {
		t.Fatalf("SaveDraftRequest: %v", err)
	}
	if draft.ID == "" || draft.Status != "draft" {
		t.Fatalf("draft = %+v", draft)
	}
	if n := len(svc.ListActions()); n != 0 {
		t.Fatalf("drafts must not enqueue, got %d actions", n)
	}
	ds, _ := svc.OfflineData()
	if len(ds.Drafts) != 1 || ds.Drafts[0].ID != draft.ID {
		t.Fatalf("drafts = %+v", ds.Drafts)
	}
}

func TestUpdateProfile(t *testing.T) {
	svc, _, _ := newService(t)

	if _, err := svc.UpdateProfile(context.Background(), domain.Profile{EmployeeID: "emp1"}, ""); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("missing name: %v", err)
	}

	p := domain.Profile{EmployeeID: "emp1", FullName: "Dana Fisher", Phone: "555-0100"}
	action, err := svc.UpdateProfile(context.Background(), p, "")
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if action.Kind != domain.KindUpdateProfile {
		t.Fatalf("action = %+v", action)
	}
	ds, _ := svc.OfflineData()
	if ds.Profile == nil || ds.Profile.FullName != "Dana Fisher" {
		t.Fatalf("optimistic profile = %+v", ds.Profile)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	svc, client, _ := newService(t)
	client.notifications = []domain.Notification{{ID: "n1"}, {ID: "n2"}}
	if _, err := svc.CacheNotifications(context.Background()); err != nil {
		t.Fatalf("CacheNotifications: %v", err)
	}

	if _, err := svc.MarkNotificationRead(context.Background(), ""); !errors.Is(err, ErrEmptyNotificationID) {
		t.Fatalf("empty id: %v", err)
	}

	action, err := svc.MarkNotificationRead(context.Background(), "n2")
	if err != nil {
		t.Fatalf("MarkNotificationRead: %v", err)
	}
	if action.Kind != domain.KindMarkNotificationRead {
		t.Fatalf("action = %+v", action)
	}
	snap, _ := svc.OfflineNotifications()
	if snap.Data[0].Read || !snap.Data[1].Read {
		t.Fatalf("only n2 should be flipped: %+v", snap.Data)
	}
}

func TestClearOfflineData_KeepsQueue(t *testing.T) {
	svc, client, _ := newService(t)
	client.schedules = []domain.Schedule{{ID: "s1"}}
	if _, err := svc.DownloadSchedules(context.Background(), "2026-09-01", "2026-09-30"); err != nil {
		t.Fatalf("DownloadSchedules: %v", err)
	}
	if _, err := svc.SubmitRequest(context.Background(), validRequest(), ""); err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}

	if err := svc.ClearOfflineData(); err != nil {
		t.Fatalf("ClearOfflineData: %v", err)
	}

	ds, _ := svc.OfflineData()
	if ds.Schedules.Present() || len(ds.Requests.Data) != 0 {
		t.Fatalf("dataset not cleared: %+v", ds)
	}
	if n := len(svc.ListActions()); n != 1 {
		t.Fatalf("queued mutation lost by cache clear; %d actions left", n)
	}
}
