// Package middleware – local idempotency for shell retries.
//
// The UI shell may re-issue a POST against the loopback API when a webview
// reloads mid-submit. This middleware validates an optional Idempotency-Key
// header, stashes the normalized key in the request context, and asks a
// narrow lookup whether an action already carries that key, in which case
// the request is marked as a replay so the handler can return the existing
// queued action instead of enqueueing a duplicate.
//
// This is distinct from the remote idempotency key (the action id) that the
// engine sends to the server; here the concern is purely local double-submit.
package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the canonical request header clients use to convey
// an idempotency key for unsafe local operations (e.g. POST /requests).
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys used to stash idempotency state; referenced via accessors.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
)

// defaultKeyPattern is a conservative RFC7230-like token pattern.
var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key stored in the context by
// IdempotencyValidator. The second value reports presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether this request re-sends a key that is already
// attached to a queued action.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil selects the default token
	// pattern.
	Pattern *regexp.Regexp
}

// IdempotencyLookup answers whether a queued action already carries the key.
type IdempotencyLookup func(key string) bool

// IdempotencyValidator validates the Idempotency-Key header when present,
// stashes it, and flags replays via the supplied lookup. Requests without the
// header pass through untouched; a malformed key is rejected with 400.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pattern := opts.Pattern
	if pattern == nil {
		pattern = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pattern.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_request",
				"message":    "invalid Idempotency-Key header",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)
		if lookup != nil && lookup(key) {
			c.Set(ctxKeyIdemReplay, true)
		}
		c.Next()
	}
}
