package middleware

import (
	"net/http"
)

// MaxBytesMiddleware caps form bodies at limit bytes. Handlers see a
// *http.MaxBytesError from ParseForm once the cap is hit. A limit of zero or
// less turns the cap off.
func MaxBytesMiddleware(limit int64) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
