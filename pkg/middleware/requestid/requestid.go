package requestid

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerKey  = "X-Request-ID"
	contextKey = "request_id"
	maxLength  = 128
)

// Middleware tags each request with an id. A caller supplied X-Request-ID is
// kept when it is short and made of token characters, so ids can be correlated
// across the gateway, the access log and the response envelope.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerKey))
		if !acceptable(id) {
			id = uuid.NewString()
		}
		c.Set(contextKey, id)
		c.Header(headerKey, id)
		c.Next()
	}
}

func acceptable(id string) bool {
	if id == "" || len(id) > maxLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("-_.:", r):
		default:
			return false
		}
	}
	return true
}

// Value returns the id assigned by Middleware, or "".
func Value(c *gin.Context) string {
	return c.GetString(contextKey)
}
