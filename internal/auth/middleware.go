package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// Middleware wraps an http.Handler, authenticating via X-API-Key header
// (REST) or api_key query parameter (WebSocket upgrade requests).
// requireAdmin narrows acceptance to ARIA_ADMIN_KEY only.
func Middleware(service *Service, requireAdmin bool, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bearer := extractBearer(r); bearer != "" && service != nil {
				if role, err := service.AuthenticateBearer(bearer); err == nil {
					if requireAdmin && role != RoleAdmin {
						writeUnauthorized(w, "admin role required")
						return
					}
					next.ServeHTTP(w, r.WithContext(WithRole(r.Context(), role)))
					return
				}
			}

			key := extractAPIKey(r)
			role, err := service.Authenticate(key, requireAdmin)
			if err != nil {
				logger.Warn("api key validation failed", "err", err, "path", r.URL.Path)
				writeUnauthorized(w, "invalid or missing api key")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithRole(r.Context(), role)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"detail":"` + msg + `"}`))
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if lower := strings.ToLower(h); strings.HasPrefix(lower, "bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return ""
}

func extractAPIKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("api_key"))
}
