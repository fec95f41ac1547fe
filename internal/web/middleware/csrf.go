package middleware

import (
	"net/http"

	"github.com/gorilla/csrf"
	"go.uber.org/zap"
)

// CSRFProtection creates a CSRF protection middleware using gorilla/csrf.
// When the site is served over plain HTTP requests are marked as such so the
// TLS-only referer check is skipped.
func CSRFProtection(key []byte, secure bool, fieldName string, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	protect := csrf.Protect(
		key,
		csrf.Secure(secure),
		csrf.Path("/"),
		csrf.FieldName(fieldName),
		csrf.RequestHeader("X-CSRF-Token"), // For HTMX requests
		csrf.ErrorHandler(CSRFFailureHandler(logger)),
	)

	return func(next http.Handler) http.Handler {
		protected := protect(next)
		if secure {
			return protected
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			protected.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
		})
	}
}

// CSRFFailureHandler provides HTMX-aware error handling for CSRF failures
func CSRFFailureHandler(logger *zap.SugaredLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Warnw("csrf validation failed", "path", r.URL.Path, "reason", csrf.FailureReason(r))

		if r.Header.Get("HX-Request") == "true" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`<div class="error" role="alert">
			<strong>Security Error:</strong> Your session has expired or the security token is invalid.
			Please <a href="javascript:window.location.reload()">refresh the page</a> and try again.
		</div>`))
			return
		}

		http.Error(w, "CSRF token validation failed. Please refresh the page and try again.", http.StatusForbidden)
	})
}
