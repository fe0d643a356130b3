// Package httpapi wires the loopback HTTP transport (Gin) to the sync core:
// middleware, route handlers, and dependency injection. The server binds to
// localhost only; its client is the UI shell rendering the mobile app.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after the logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (flags shell replays before handlers run)
//  8. gzip, CORS, security headers
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/rosterly/shiftsync/internal/config"
	"github.com/rosterly/shiftsync/internal/http/handlers"
	"github.com/rosterly/shiftsync/internal/http/middleware"
	"github.com/rosterly/shiftsync/internal/queue"
)

// RegisterRoutes attaches all middleware and endpoints to the given Gin
// engine. Dependencies are injected: the offline service, the status reader,
// and the queue (for the idempotency replay lookup).
func RegisterRoutes(r *gin.Engine, svc handlers.OfflineService, st handlers.StatusReader, q *queue.Queue, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured access logs
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (256 KiB; payloads here are small forms)
	r.Use(limitBody(256 << 10))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Local idempotency: flag shell retries of unsafe posts
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(key string) bool { return q.FindByClientKey(key) != nil },
	))

	// 8) Compression, CORS for the shell origin, security headers
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(corsPolicy(cfg))
	r.Use(middleware.SecurityHeaders())

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(svc, st)

	api := groupWithPrefix(r, cfg.APIBasePath) // e.g. "/api/v1"
	{
		// Sync status and queue management
		api.GET("/status", h.GetStatus)
		api.GET("/actions", h.ListActions)
		api.POST("/actions/:id/cancel", h.CancelAction)
		api.POST("/actions/:id/retry", h.RetryAction)
		api.DELETE("/actions/:id", h.DiscardAction)

		// Schedules
		api.GET("/schedules", h.GetSchedules)
		api.POST("/schedules/refresh", h.RefreshSchedules)

		// Requests
		api.GET("/requests", h.GetRequests)
		api.POST("/requests", h.SubmitRequest)
		api.POST("/requests/drafts", h.SaveDraft)

		// Notifications
		api.GET("/notifications", h.GetNotifications)
		api.POST("/notifications/refresh", h.RefreshNotifications)
		api.POST("/notifications/:id/read", h.MarkNotificationRead)

		// Profile
		api.PUT("/profile", h.UpdateProfile)

		// Cache management
		api.DELETE("/offline-data", h.ClearOfflineData)
	}
}

// corsPolicy allows the configured shell origins, or any origin when none are
// configured (useful for dev shells served from random ports).
func corsPolicy(cfg config.Config) gin.HandlerFunc {
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderIdempotencyKey,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		return cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:    allowHeaders,
			ExposeHeaders:   []string{"X-Request-ID", "Content-Length"},
			MaxAge:          12 * time.Hour,
		})
	}
	return cors.New(cors.Config{
		AllowOrigins:  cfg.CORS.AllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  allowHeaders,
		ExposeHeaders: []string{"X-Request-ID", "Content-Length"},
		MaxAge:        12 * time.Hour,
	})
}

// limitBody caps the request body size using http.MaxBytesReader.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
