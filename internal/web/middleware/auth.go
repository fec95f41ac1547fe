package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shindakun/authweb/internal/auth"
	"github.com/shindakun/authweb/internal/router"
)

// Guard applies the route table to the browser's auth state. It waits up to
// probeWait for the initial probe; if that is still running the loading
// handler is served for every path. Before redirecting, the state is checked
// against the provider once more, since another instance sharing the token
// store may have signed the browser in or out.
func Guard(probeWait time.Duration, loading http.Handler, logger *zap.SugaredLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rt, ok := auth.RuntimeFromContext(r.Context())
			if !ok {
				logger.Errorw("guard reached without a browser runtime", "path", r.URL.Path)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			waitReady(r, rt.State.Ready(), probeWait)

			decision := router.Decide(r.URL.Path, rt.State.State())
			if decision.Outcome == router.Redirect {
				decision = router.Decide(r.URL.Path, rt.State.Recheck(r.Context()))
			}
			switch decision.Outcome {
			case router.Loading:
				loading.ServeHTTP(w, r)
			case router.Redirect:
				redirect(w, r, decision.Location)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func waitReady(r *http.Request, ready <-chan struct{}, wait time.Duration) {
	select {
	case <-ready:
		return
	default:
	}
	if wait <= 0 {
		return
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ready:
	case <-timer.C:
	case <-r.Context().Done():
	}
}

// redirect sends a 303, or an HX-Redirect header for HTMX requests
func redirect(w http.ResponseWriter, r *http.Request, location string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", location)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
