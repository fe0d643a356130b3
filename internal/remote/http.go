// Package remote – HTTP implementation.
//
// Classification rules (the single source of truth for the failure taxonomy):
//   - transport error, timeout, cancellation  → network_error (retryable)
//   - 2xx                                     → success
//   - 409                                     → conflict (policy-resolved)
//   - other 4xx                               → client_error (terminal)
//   - 5xx                                     → server_error (retryable)
//
// Every replay carries the action id in the Idempotency-Key header. Outbound
// calls run through a token-bucket limiter so a large queue drains without
// hammering a server that just came back.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rosterly/shiftsync/internal/domain"
)

// HeaderIdempotencyKey is the request header carrying the client-generated
// idempotency key (the pending action id).
const HeaderIdempotencyKey = "Idempotency-Key"

// DefaultTimeout bounds every remote call; exceeding it is a network error.
const DefaultTimeout = 30 * time.Second

// HTTPClientOptions configures an HTTPClient.
type HTTPClientOptions struct {
	// BaseURL is the API root, e.g. "https://api.example.com".
	BaseURL string
	// Token is sent as a bearer token when non-empty.
	Token string
	// Timeout per call; zero selects DefaultTimeout.
	Timeout time.Duration
	// RPS/Burst bound the outbound request rate. RPS <= 0 disables limiting.
	RPS   float64
	Burst int
	// Logger for per-call debug logs. A zero logger is usable.
	Logger zerolog.Logger
}

// HTTPClient is the production Client talking to the REST API.
type HTTPClient struct {
	base    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewHTTPClient builds an HTTPClient from opts.
func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var limiter *rate.Limiter
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return &HTTPClient{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		log:     opts.Logger,
	}
}

// markReadPayload is the payload shape of a mark_notification_read action.
type markReadPayload struct {
	NotificationID string `json:"notification_id"`
}

// route maps an action kind to its method and path.
func (c *HTTPClient) route(a *domain.PendingAction) (method, path string, err error) {
	switch a.Kind {
	case domain.KindCreateRequest:
		return http.MethodPost, "/mobile/requests", nil
	case domain.KindUpdateProfile:
		return http.MethodPut, "/mobile/profile", nil
	case domain.KindMarkNotificationRead:
		var p markReadPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil || p.NotificationID == "" {
			return "", "", fmt.Errorf("mark_notification_read payload missing notification_id")
		}
		return http.MethodPost, "/mobile/notifications/" + url.PathEscape(p.NotificationID) + "/read", nil
	default:
		return "", "", fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

// Replay delivers one queued mutation and classifies the result.
func (c *HTTPClient) Replay(ctx context.Context, a *domain.PendingAction) Outcome {
	method, path, err := c.route(a)
	if err != nil {
		// A malformed or unknown action can never succeed remotely.
		return Failure(domain.FailureClient, 0, err.Error())
	}

	if err := c.wait(ctx); err != nil {
		return Failure(domain.FailureNetwork, 0, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(a.Payload))
	if err != nil {
		return Failure(domain.FailureClient, 0, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderIdempotencyKey, a.ID)
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return Failure(domain.FailureNetwork, 0, err.Error())
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	c.log.Debug().
		Str("action_id", a.ID).
		Str("kind", string(a.Kind)).
		Int("status", resp.StatusCode).
		Msg("replay call")

	return classify(resp.StatusCode, body)
}

// classify maps an HTTP status to an Outcome per the package rules.
func classify(status int, body []byte) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Success(status, body)
	case status == http.StatusConflict:
		return Failure(domain.FailureConflict, status, strings.TrimSpace(string(body)))
	case status >= 500:
		return Failure(domain.FailureServer, status, strings.TrimSpace(string(body)))
	default:
		return Failure(domain.FailureClient, status, strings.TrimSpace(string(body)))
	}
}

// FetchSchedules returns the date-bounded schedule snapshot.
func (c *HTTPClient) FetchSchedules(ctx context.Context, start, end string) ([]domain.Schedule, error) {
	q := url.Values{}
	q.Set("start", start)
	q.Set("end", end)
	var out []domain.Schedule
	if err := c.getJSON(ctx, "/mobile/schedules?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchRequests returns the current request snapshot.
func (c *HTTPClient) FetchRequests(ctx context.Context) ([]domain.LeaveRequest, error) {
	var out []domain.LeaveRequest
	if err := c.getJSON(ctx, "/mobile/requests", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchNotifications returns the current notification snapshot.
func (c *HTTPClient) FetchNotifications(ctx context.Context) ([]domain.Notification, error) {
	var out []domain.Notification
	if err := c.getJSON(ctx, "/mobile/notifications", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// getJSON performs a rate-limited GET and decodes the JSON response into dst.
func (c *HTTPClient) getJSON(ctx context.Context, path string, dst any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// wait blocks for a limiter token when limiting is enabled.
func (c *HTTPClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// auth attaches the bearer token when configured.
func (c *HTTPClient) auth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
