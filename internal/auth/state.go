package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shindakun/authweb/internal/identity"
	"github.com/shindakun/authweb/internal/metrics"
	"github.com/shindakun/authweb/internal/models"
)

// StateOptions configures a StateManager
type StateOptions struct {
	ProbeTimeout time.Duration // 0 means no local timeout on the initial probe
	Metrics      *metrics.Metrics
}

// StateManager owns one browser's AuthState. It resolves the initial state
// with a single probe and then follows sign-in/sign-out events on the hub.
type StateManager struct {
	client identity.Client
	hub    *identity.Hub
	logger *zap.SugaredLogger
	opts   StateOptions

	mu       sync.Mutex
	state    models.AuthState
	eventSet bool // an event was applied while the probe was in flight
	closed   bool
	subs     map[int]func(models.AuthState)
	nextSub  int

	ready     chan struct{}
	startOnce sync.Once
	unlisten  func()
	cancel    context.CancelFunc
}

// NewStateManager returns a manager in the loading state
func NewStateManager(client identity.Client, hub *identity.Hub, logger *zap.SugaredLogger, opts StateOptions) *StateManager {
	return &StateManager{
		client: client,
		hub:    hub,
		logger: logger,
		opts:   opts,
		state:  models.AuthState{IsLoading: true},
		subs:   make(map[int]func(models.AuthState)),
		ready:  make(chan struct{}),
	}
}

// Start subscribes to the hub and launches the initial probe.
// Only the first call has any effect.
func (m *StateManager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		base := context.WithoutCancel(ctx)
		var (
			probeCtx context.Context
			cancel   context.CancelFunc
		)
		if m.opts.ProbeTimeout > 0 {
			probeCtx, cancel = context.WithTimeout(base, m.opts.ProbeTimeout)
		} else {
			probeCtx, cancel = context.WithCancel(base)
		}

		unlisten := m.hub.Listen(m.handleEvent)

		m.mu.Lock()
		m.cancel = cancel
		m.unlisten = unlisten
		m.mu.Unlock()

		go m.probe(probeCtx, cancel)
	})
}

// StartSignedIn starts a manager whose browser is already known to be
// signed in, without probing. Only the first Start or StartSignedIn counts.
func (m *StateManager) StartSignedIn() {
	m.startOnce.Do(func() {
		unlisten := m.hub.Listen(m.handleEvent)

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			unlisten()
			return
		}
		m.unlisten = unlisten
		next := models.AuthState{IsAuthenticated: true}
		subs := m.setLocked(next)
		m.mu.Unlock()

		m.notify(subs, next)
		close(m.ready)
	})
}

func (m *StateManager) probe(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	_, err := m.client.GetCurrentUser(ctx)
	authenticated := err == nil
	if err != nil && !errors.Is(err, identity.ErrNoCurrentUser) {
		m.logger.Warnw("auth probe failed, treating browser as signed out", "error", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	next := m.state
	next.IsLoading = false
	if !m.eventSet {
		next.IsAuthenticated = authenticated
	}
	subs := m.setLocked(next)
	m.mu.Unlock()

	m.notify(subs, next)
	close(m.ready)
}

// State returns a copy of the current state
func (m *StateManager) State() models.AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready is closed once the initial probe has resolved
func (m *StateManager) Ready() <-chan struct{} {
	return m.ready
}

// Subscribe registers fn to be called after every change of state
func (m *StateManager) Subscribe(fn func(models.AuthState)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *StateManager) handleEvent(e identity.Event) {
	var authenticated bool
	switch e {
	case identity.EventSignedIn:
		authenticated = true
	case identity.EventSignedOut:
		authenticated = false
	default:
		return
	}
	m.opts.Metrics.ObserveEvent(e.String())
	m.setAuthenticated(authenticated)
}

// Recheck asks the provider for the current user again and applies the
// answer. Tokens can change behind this manager's back when several
// instances share a token store. Before the initial probe has resolved, and
// when the provider cannot answer, the state is left alone.
func (m *StateManager) Recheck(ctx context.Context) models.AuthState {
	select {
	case <-m.ready:
	default:
		return m.State()
	}

	_, err := m.client.GetCurrentUser(ctx)
	switch {
	case err == nil:
		m.setAuthenticated(true)
	case errors.Is(err, identity.ErrNoCurrentUser):
		m.setAuthenticated(false)
	default:
		m.logger.Warnw("auth recheck failed, keeping state", "error", err)
	}
	return m.State()
}

// SignOut signs the browser out at the provider. On failure the state is
// left as it was and the error is returned.
func (m *StateManager) SignOut(ctx context.Context) error {
	if err := m.client.SignOut(ctx); err != nil {
		m.logger.Errorw("sign out failed", "error", err)
		return err
	}
	m.setAuthenticated(false)
	return nil
}

// Close stops following hub events and discards a pending probe result
func (m *StateManager) Close() {
	m.mu.Lock()
	m.closed = true
	cancel, unlisten := m.cancel, m.unlisten
	m.subs = make(map[int]func(models.AuthState))
	m.mu.Unlock()

	if unlisten != nil {
		unlisten()
	}
	if cancel != nil {
		cancel()
	}
}

func (m *StateManager) setAuthenticated(authenticated bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.state.IsLoading {
		m.eventSet = true
	}
	next := m.state
	next.IsAuthenticated = authenticated
	subs := m.setLocked(next)
	m.mu.Unlock()

	m.notify(subs, next)
}

// setLocked assigns next and returns the subscribers to notify, or nil when
// nothing changed. Caller holds mu.
func (m *StateManager) setLocked(next models.AuthState) []func(models.AuthState) {
	if next == m.state {
		return nil
	}
	m.state = next

	subs := make([]func(models.AuthState), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return subs
}

func (m *StateManager) notify(subs []func(models.AuthState), state models.AuthState) {
	for _, fn := range subs {
		fn(state)
	}
}
