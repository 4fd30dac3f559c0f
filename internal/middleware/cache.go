package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qc-validator-api/pkg/middleware/requestid"
)

const (
	responseMetaKey = "response_meta"
	cacheHitKey     = "cache_hit"
	processingKey   = "processing_time_ms"
)

// WithResponseMeta gives handlers a meta map for the response envelope. Handlers that render
// before the chain unwinds must stamp processing time themselves.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		meta := map[string]interface{}{}
		if id := requestid.Value(c); id != "" {
			meta["request_id"] = id
		}
		c.Set(responseMetaKey, meta)
		c.Next()
		if _, exists := meta[processingKey]; !exists {
			meta[processingKey] = time.Since(start).Milliseconds()
		}
	}
}

// SetCacheHit flags whether the payload came from the marketplace cache.
func SetCacheHit(c *gin.Context, hit bool) {
	metaFor(c)[cacheHitKey] = hit
}

// ExtractMeta returns the meta map, or nil when WithResponseMeta is not mounted.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	value, exists := c.Get(responseMetaKey)
	if !exists {
		return nil
	}
	meta, _ := value.(map[string]interface{})
	return meta
}

func metaFor(c *gin.Context) map[string]interface{} {
	if meta := ExtractMeta(c); meta != nil {
		return meta
	}
	meta := map[string]interface{}{}
	if c != nil {
		c.Set(responseMetaKey, meta)
	}
	return meta
}
