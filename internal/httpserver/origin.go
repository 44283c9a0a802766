package httpserver

import (
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/origin"
)

// originMiddleware rejects browser requests whose Origin is not allowed by
// the configured policy. Requests without an Origin header (curl, native
// clients) pass through untouched.
func (s *Server) originMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			originHeader := strings.TrimSpace(r.Header.Get("Origin"))
			if originHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			normalized, originHost, ok := origin.NormalizeHeader(originHeader)
			if !ok || !origin.IsAllowed(normalized, originHost, r.Host, s.cfg.AllowedOrigins) {
				s.log.Warn("origin rejected", "origin", originHeader, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				WriteJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", normalized)
			h.Set("Access-Control-Expose-Headers", "X-Request-ID")
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
				if requested := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requested != "" {
					h.Set("Access-Control-Allow-Headers", requested)
				}
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return s.originMiddleware()(next).ServeHTTP
}
