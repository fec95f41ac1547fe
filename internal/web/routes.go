// Package web assembles the HTTP router from middleware, handlers and the
// embedded templates.
package web

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shindakun/authweb/internal/auth"
	"github.com/shindakun/authweb/internal/config"
	"github.com/shindakun/authweb/internal/router"
	"github.com/shindakun/authweb/internal/web/handlers"
	"github.com/shindakun/authweb/internal/web/middleware"
)

// Deps are the collaborators the router needs
type Deps struct {
	Config   *config.Config
	Sessions *auth.SessionManager
	Registry *auth.Registry
	Gatherer prometheus.Gatherer // nil disables /metrics
	Version  string
	Logger   *zap.SugaredLogger
}

// NewRouter builds the application's HTTP handler
func NewRouter(deps Deps) (http.Handler, error) {
	cfg := deps.Config
	logger := deps.Logger

	pages, err := handlers.ParsePages(Templates)
	if err != nil {
		return nil, err
	}
	static, err := fs.Sub(Static, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to open static assets: %w", err)
	}

	h := handlers.New(deps.Sessions, deps.Registry, pages, deps.Version, logger.Named("http"))

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.LoggingMiddleware(logger.Named("access")))
	r.Use(middleware.ErrorHandler(logger, http.HandlerFunc(h.InternalError)))
	r.Use(middleware.SecurityHeaders(cfg))
	r.Use(middleware.MaxBytesMiddleware(cfg.Server.Security.MaxRequestBytes))
	r.Use(chimiddleware.CleanPath)

	// Outside the browser runtime
	r.Get(router.HealthPath, h.Health)
	if deps.Gatherer != nil {
		r.Handle(router.MetricsPath, promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Handle(router.StaticPathPrefix+"*", http.StripPrefix(router.StaticPathPrefix, http.FileServer(http.FS(static))))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Runtime(deps.Sessions, deps.Registry, logger))
		if cfg.Server.Security.CSRFEnabled {
			key := sha256.Sum256([]byte(cfg.Session.Secret))
			r.Use(middleware.CSRFProtection(key[:], cfg.CookieSecure(), cfg.Server.Security.CSRFFieldName, logger))
		}
		r.Use(middleware.Guard(cfg.Session.ProbeWait, http.HandlerFunc(h.Loading), logger))

		r.Get(router.RootPath, h.Root)

		r.Get(router.LoginPath, h.LoginPage)
		r.Post(router.LoginPath, h.LoginSubmit)
		r.Get(router.SignupPath, h.SignupPage)
		r.Post(router.SignupPath, h.SignupSubmit)
		r.Get(router.ConfirmSignupPath, h.ConfirmSignupPage)
		r.Post(router.ConfirmSignupPath, h.ConfirmSignupSubmit)
		r.Post(router.ResendCodePath, h.ResendCode)

		r.Get(router.HomePath, h.Home)
		r.Post(router.LogoutPath, h.Logout)

		// Unknown paths wait for the initial probe like every other page
		r.NotFound(h.NotFound)
	})

	return r, nil
}
