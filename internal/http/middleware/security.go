// Package middleware – security headers.
//
// The loopback API is rendered inside a webview, which is still a browser:
// content sniffing and framing protections apply even on 127.0.0.1.
package middleware

import "github.com/gin-gonic/gin"

// SecurityHeaders sets a conservative header posture on every response.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		c.Next()
	}
}
