package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	allowHeaders  = "Authorization, Content-Type, X-Requested-With, X-Request-ID, Last-Event-ID"
	allowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	exposeHeaders = "X-Request-ID, Content-Disposition"
	maxAgeSeconds = "600"
)

// policy matches request origins. Entries may be exact origins or a
// "https://*.example.com" pattern covering any subdomain.
type policy struct {
	any      bool
	exact    map[string]struct{}
	suffixes []string
}

func newPolicy(origins []string) policy {
	p := policy{exact: make(map[string]struct{}, len(origins))}
	for _, raw := range origins {
		origin := strings.TrimRight(strings.TrimSpace(raw), "/")
		switch {
		case origin == "":
		case origin == "*":
			p.any = true
		case strings.Contains(origin, "://*."):
			scheme, host, _ := strings.Cut(origin, "://*")
			p.suffixes = append(p.suffixes, scheme+"://|"+host)
		default:
			p.exact[origin] = struct{}{}
		}
	}
	if len(p.exact) == 0 && len(p.suffixes) == 0 {
		p.any = true
	}
	return p
}

func (p policy) allows(origin string) bool {
	if p.any {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	if _, ok := p.exact[origin]; ok {
		return true
	}
	for _, s := range p.suffixes {
		scheme, host, _ := strings.Cut(s, "|")
		if strings.HasPrefix(origin, scheme) && strings.HasSuffix(origin, host) && len(origin) > len(scheme)+len(host) {
			return true
		}
	}
	return false
}

// New returns the CORS middleware. An empty list allows every origin. Allowed
// origins are echoed back so credentialed requests keep working; the event
// stream reconnects with Last-Event-ID and downloads read Content-Disposition.
func New(allowedOrigins []string) gin.HandlerFunc {
	p := newPolicy(allowedOrigins)

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Add("Vary", "Origin")

		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if !p.allows(origin) {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Expose-Headers", exposeHeaders)

		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Max-Age", maxAgeSeconds)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
