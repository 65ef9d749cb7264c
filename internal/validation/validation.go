// Package validation provides input validation helpers for the ChurnGuard API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size. Envelopes are small.
const MaxRequestSize = 256 << 10

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 2048

// MaxPropertyCount bounds the number of keys accepted in event properties.
const MaxPropertyCount = 64

// eventTypeRegex validates event type names (snake_case identifiers)
var eventTypeRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEventType checks that an event type is a well-formed identifier
func IsValidEventType(s string) bool {
	return eventTypeRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// SanitizeProperties bounds a caller-supplied property map: key count capped,
// string values truncated. The map is copied, never mutated in place.
func SanitizeProperties(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	n := 0
	for k, v := range props {
		if n >= MaxPropertyCount {
			break
		}
		if s, ok := v.(string); ok {
			v = SanitizeString(s, MaxStringLength)
		}
		out[SanitizeString(k, 128)] = v
		n++
	}
	return out
}
