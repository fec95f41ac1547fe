package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/shindakun/authweb/internal/auth"
)

// Runtime identifies the browser from its cookie and attaches its runtime to
// the request context, creating both on first sight.
func Runtime(sessions *auth.SessionManager, registry *auth.Registry, logger *zap.SugaredLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := sessions.BrowserID(w, r)
			if err != nil {
				logger.Errorw("failed to identify browser", "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			setBrowserID(r.Context(), id)

			rt := registry.Get(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(auth.WithRuntime(r.Context(), rt)))
		})
	}
}
