package server

import (
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/carrier-cli/internal/scrape"
)

// clientIP returns the host part of the request's remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rejectBlocked answers 403 for blocklisted clients and tags the request
// context with the client IP for the fetch gateway.
func (s *Server) rejectBlocked(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if s.deps.Blocklist != nil {
			blocked, err := s.deps.Blocklist.IsIPBlocked(r.Context(), ip)
			if err != nil {
				zap.L().Error("server: blocklist check failed", zap.String("ip", ip), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "Blocklist check failed", err)
				return
			}
			if blocked {
				zap.L().Warn("server: blocked ip refused", zap.String("ip", ip), zap.String("path", r.URL.Path))
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "Access denied"})
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(scrape.WithClientIP(r.Context(), ip)))
	})
}
