package api

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/shindakun/authweb/internal/metrics"
	"github.com/shindakun/authweb/internal/models"
)

// ErrNoToken is returned when the browser has no id token to send
var ErrNoToken = errors.New("no authentication token available")

// SessionSource yields the current provider session
type SessionSource interface {
	FetchAuthSession(ctx context.Context) (*models.AuthSession, error)
}

// Fetcher loads the protected resource for one browser
type Fetcher struct {
	source  SessionSource
	client  *Client
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewFetcher returns a fetcher reading tokens from source
func NewFetcher(source SessionSource, client *Client, logger *zap.SugaredLogger, m *metrics.Metrics) *Fetcher {
	return &Fetcher{source: source, client: client, logger: logger, metrics: m}
}

// Fetch asks the provider for the current token and calls the backend with it.
// The token is read on every call.
func (f *Fetcher) Fetch(ctx context.Context) (*models.UserData, error) {
	session, err := f.source.FetchAuthSession(ctx)
	if err != nil {
		f.metrics.ObserveFetch("error")
		f.logger.Errorw("failed to fetch auth session", "error", err)
		return nil, err
	}

	token := session.IDToken()
	if token == "" {
		f.metrics.ObserveFetch("no_token")
		f.logger.Warnw("protected fetch without token")
		return nil, ErrNoToken
	}

	data, err := f.client.FetchUserData(ctx, token)
	switch {
	case IsUnauthorized(err):
		f.metrics.ObserveFetch("unauthorized")
		f.logger.Warnw("protected endpoint rejected token", "url", f.client.URL())
		return nil, err
	case err != nil:
		f.metrics.ObserveFetch("error")
		f.logger.Errorw("protected fetch failed", "url", f.client.URL(), "status", StatusCode(err), "error", err)
		return nil, err
	}

	f.metrics.ObserveFetch("ok")
	return data, nil
}
