package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/shindakun/authweb/internal/api"
	"github.com/shindakun/authweb/internal/forms"
	"github.com/shindakun/authweb/internal/identity"
	"github.com/shindakun/authweb/internal/metrics"
)

// Runtime is everything one browser owns on the server: its event hub,
// provider client, auth state, form gates and protected fetcher.
type Runtime struct {
	ID       string
	Hub      *identity.Hub
	Identity identity.Client
	State    *StateManager
	Forms    *forms.Forms
	Fetcher  *api.Fetcher
}

// Close stops the runtime's state manager
func (rt *Runtime) Close() {
	rt.State.Close()
}

// RegistryOptions configures a Registry
type RegistryOptions struct {
	Size    int
	State   StateOptions
	Metrics *metrics.Metrics
}

// Registry holds the runtimes of recently seen browsers. The least recently
// used runtime is closed when the registry is full.
type Registry struct {
	provider identity.Provider
	api      *api.Client
	logger   *zap.SugaredLogger
	opts     RegistryOptions

	mu    sync.Mutex
	cache *lru.Cache[string, *Runtime]
}

// NewRegistry returns an empty registry
func NewRegistry(provider identity.Provider, apiClient *api.Client, logger *zap.SugaredLogger, opts RegistryOptions) (*Registry, error) {
	if opts.Size <= 0 {
		opts.Size = 1024
	}
	if opts.State.Metrics == nil {
		opts.State.Metrics = opts.Metrics
	}

	r := &Registry{
		provider: provider,
		api:      apiClient,
		logger:   logger,
		opts:     opts,
	}

	cache, err := lru.NewWithEvict(opts.Size, r.evicted)
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime cache: %w", err)
	}
	r.cache = cache

	return r, nil
}

func (r *Registry) evicted(id string, rt *Runtime) {
	rt.Close()
	r.opts.Metrics.RuntimeRemoved()
	r.logger.Debugw("browser runtime closed", "browser_id", id)
}

// Get returns the runtime for browser id, creating and starting it on first sight
func (r *Registry) Get(ctx context.Context, id string) *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rt, ok := r.cache.Get(id); ok {
		return rt
	}

	rt := r.newRuntime(id)
	rt.State.Start(ctx)
	r.addLocked(rt)
	return rt
}

// Rotate moves a signed-in browser to a fresh id so that the id it had
// before signing in stops carrying the session. The old runtime is closed
// and the new one starts signed in.
func (r *Registry) Rotate(ctx context.Context, oldID string) (*Runtime, error) {
	newID := uuid.New().String()
	if err := r.provider.MoveSession(ctx, oldID, newID); err != nil {
		return nil, fmt.Errorf("failed to move session: %w", err)
	}

	r.Remove(oldID)

	r.mu.Lock()
	defer r.mu.Unlock()

	rt := r.newRuntime(newID)
	rt.State.StartSignedIn()
	r.addLocked(rt)

	r.logger.Infow("browser id rotated after sign in", "browser_id", newID, "previous_browser_id", oldID)
	return rt, nil
}

func (r *Registry) newRuntime(id string) *Runtime {
	logger := r.logger.With("browser_id", id)
	hub := identity.NewHub()
	client := r.provider.ForSession(id, hub)

	return &Runtime{
		ID:       id,
		Hub:      hub,
		Identity: client,
		State:    NewStateManager(client, hub, logger, r.opts.State),
		Forms:    forms.New(client, logger),
		Fetcher:  api.NewFetcher(client, r.api, logger, r.opts.Metrics),
	}
}

// addLocked caches rt. Caller holds mu.
func (r *Registry) addLocked(rt *Runtime) {
	r.cache.Add(rt.ID, rt)
	r.opts.Metrics.RuntimeAdded()
	r.logger.Debugw("browser runtime started", "browser_id", rt.ID)
}

// Remove closes and forgets the runtime for browser id
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Remove(id)
}

// Len returns the number of live runtimes
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Close closes every runtime
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Purge()
}

type runtimeKey struct{}

// WithRuntime stores rt in ctx
func WithRuntime(ctx context.Context, rt *Runtime) context.Context {
	return context.WithValue(ctx, runtimeKey{}, rt)
}

// RuntimeFromContext returns the runtime stored by WithRuntime
func RuntimeFromContext(ctx context.Context) (*Runtime, bool) {
	rt, ok := ctx.Value(runtimeKey{}).(*Runtime)
	return rt, ok
}
