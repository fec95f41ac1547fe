package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/shindakun/authweb/internal/api"
	"github.com/shindakun/authweb/internal/auth"
	"github.com/shindakun/authweb/internal/config"
	"github.com/shindakun/authweb/internal/identity"
	"github.com/shindakun/authweb/internal/logging"
	"github.com/shindakun/authweb/internal/metrics"
	"github.com/shindakun/authweb/internal/storage"
	"github.com/shindakun/authweb/internal/version"
	"github.com/shindakun/authweb/internal/web"
)

func main() {
	// Load configuration. CONFIG_PATH is optional; the environment alone is enough.
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "authweb: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "authweb: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatalw("authweb stopped", "error", err)
	}
}

func run(cfg *config.Config, logger *zap.SugaredLogger) error {
	logger.Infow("starting authweb", "version", version.GetFullVersion(), "addr", cfg.GetAddr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, closeStore, err := openTokenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	cognitoAPI, err := identity.NewCognitoAPI(ctx, cfg.Cognito.Region, cleanhttp.DefaultPooledClient())
	if err != nil {
		return err
	}
	provider := identity.NewCognito(cognitoAPI, store, identity.CognitoOptions{
		UserPoolID:    cfg.Cognito.UserPoolID,
		ClientID:      cfg.Cognito.ClientID,
		ClientSecret:  cfg.Cognito.ClientSecret,
		Region:        cfg.Cognito.Region,
		GlobalSignOut: cfg.Cognito.GlobalSignOut,
		Metrics:       m,
	}, logger)
	logger.Infow("identity provider configured", "user_pool", cfg.Cognito.UserPoolID, "region", cfg.Cognito.Region)

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = cfg.API.Timeout
	apiClient := api.NewClient(cfg.API.Endpoint, cfg.API.ProtectedPath, httpClient, logger.Named("api"))
	logger.Infow("protected endpoint configured", "url", apiClient.URL())

	registry, err := auth.NewRegistry(provider, apiClient, logger.Named("runtime"), auth.RegistryOptions{
		Size:    cfg.Session.CacheSize,
		State:   auth.StateOptions{ProbeTimeout: cfg.Session.ProbeTimeout},
		Metrics: m,
	})
	if err != nil {
		return err
	}
	defer registry.Close()

	sessions := auth.InitSessions(cfg.Session.Secret, cfg.Session.MaxAge, cfg.CookieSecure(), cfg.CookieSameSite())

	handler, err := web.NewRouter(web.Deps{
		Config:   cfg,
		Sessions: sessions,
		Registry: registry,
		Gatherer: reg,
		Version:  version.GetVersion(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.GetAddr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("server listening", "url", cfg.GetBaseURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited successfully")
	return nil
}

// openTokenStore opens the configured token store and returns a func that closes it
func openTokenStore(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (storage.TokenStore, func(), error) {
	switch cfg.Storage.Driver {
	case "redis":
		client, err := storage.NewRedisClient(ctx, cfg.Storage.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Infow("token store ready", "driver", "redis")
		return storage.NewRedisTokenStore(client, cfg.Storage.TokenTTL), func() { client.Close() }, nil

	case "memory":
		logger.Warnw("token store is in memory, sign-ins will not survive a restart")
		return storage.NewMemoryTokenStore(), func() {}, nil

	default:
		db, err := storage.InitDB(cfg.Storage.DBPath)
		if err != nil {
			return nil, nil, err
		}
		store := storage.NewSQLiteTokenStore(db)

		if cfg.Storage.TokenTTL > 0 {
			purged, err := store.DeleteStaleTokens(ctx, time.Now().Add(-cfg.Storage.TokenTTL))
			if err != nil {
				logger.Warnw("failed to purge stale tokens", "error", err)
			} else if purged > 0 {
				logger.Infow("purged stale tokens", "count", purged)
			}
		}

		logger.Infow("token store ready", "driver", "sqlite", "path", cfg.Storage.DBPath)
		return store, func() { db.Close() }, nil
	}
}
