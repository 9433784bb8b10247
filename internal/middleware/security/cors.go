package security

import (
	"net/http"
	"strings"
)

// DefaultOrigins are the local frontend dev servers.
var DefaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// CORS answers preflight requests and echoes allowed origins. Credentials are
// allowed, so the origin is always echoed and never "*".
type CORS struct {
	origins map[string]struct{}
}

// NewCORS allows DefaultOrigins plus any extra non-empty origins.
func NewCORS(extra ...string) *CORS {
	c := &CORS{origins: make(map[string]struct{})}
	for _, o := range append(append([]string(nil), DefaultOrigins...), extra...) {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			c.origins[o] = struct{}{}
		}
	}
	return c
}

// Allowed reports whether origin may call the API from a browser.
func (c *CORS) Allowed(origin string) bool {
	_, ok := c.origins[origin]
	return ok
}

func (c *CORS) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")
		allowed := c.Allowed(origin)
		if allowed {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Expose-Headers", "Location, X-Request-ID")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			} else {
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
