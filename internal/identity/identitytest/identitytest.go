// Package identitytest provides an in-memory identity provider for tests.
package identitytest

import (
	"context"
	"sync"

	"github.com/shindakun/authweb/internal/identity"
	"github.com/shindakun/authweb/internal/models"
)

// DefaultCode is the confirmation code every signup receives
const DefaultCode = "123456"

type account struct {
	password  string
	email     string
	confirmed bool
}

// Provider is a fake user pool. It implements identity.Provider and keeps
// accounts and signed-in browsers in memory.
type Provider struct {
	mu       sync.Mutex
	accounts map[string]*account
	sessions map[string]string // browser id -> username
	errs     map[string]error
	resends  map[string]int
	gates    map[string]chan struct{}
}

// NewProvider returns an empty fake pool
func NewProvider() *Provider {
	return &Provider{
		accounts: make(map[string]*account),
		sessions: make(map[string]string),
		errs:     make(map[string]error),
		resends:  make(map[string]int),
		gates:    make(map[string]chan struct{}),
	}
}

// AddUser registers an account directly
func (p *Provider) AddUser(username, password, email string, confirmed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[username] = &account{password: password, email: email, confirmed: confirmed}
}

// FailWith makes every later call of op return err. A nil err clears it.
// Ops are "SignIn", "SignUp", "ConfirmSignUp", "ResendSignUpCode", "SignOut",
// "GetCurrentUser", "FetchAuthSession" and "MoveSession".
func (p *Provider) FailWith(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, op)
		return
	}
	p.errs[op] = err
}

// Block makes calls of op wait until the returned func is called
func (p *Provider) Block(op string) (release func()) {
	ch := make(chan struct{})
	p.mu.Lock()
	p.gates[op] = ch
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.gates, op)
			p.mu.Unlock()
			close(ch)
		})
	}
}

// SignInSession marks a browser as signed in without publishing an event,
// as if tokens had survived from an earlier visit.
func (p *Provider) SignInSession(sessionID, username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[sessionID] = username
}

// ExpireSession drops a browser's tokens without publishing an event
func (p *Provider) ExpireSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
}

// ExpireAllSessions drops the tokens of every browser without publishing events
func (p *Provider) ExpireAllSessions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = make(map[string]string)
}

// SignedIn reports whether the browser currently holds tokens
func (p *Provider) SignedIn(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[sessionID]
	return ok
}

// Confirmed reports whether username has confirmed its signup
func (p *Provider) Confirmed(username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[username]
	return ok && a.confirmed
}

// Resends returns how many codes were re-sent to username
func (p *Provider) Resends(username string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resends[username]
}

// Token is the id token the fake issues to username
func Token(username string) string {
	return "id-token-" + username
}

// ForSession implements identity.Provider
func (p *Provider) ForSession(sessionID string, hub *identity.Hub) identity.Client {
	return &session{p: p, id: sessionID, hub: hub}
}

// MoveSession implements identity.Provider
func (p *Provider) MoveSession(ctx context.Context, fromID, toID string) error {
	if err := p.enter(ctx, "MoveSession"); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	username, ok := p.sessions[fromID]
	if !ok {
		return identity.ErrNoCurrentUser
	}
	delete(p.sessions, fromID)
	p.sessions[toID] = username
	return nil
}

// enter waits on any gate for op and returns the injected error
func (p *Provider) enter(ctx context.Context, op string) error {
	p.mu.Lock()
	gate := p.gates[op]
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs[op]
}

func rejected(code, message string) error {
	return &identity.Error{Code: code, Message: message}
}

type session struct {
	p   *Provider
	id  string
	hub *identity.Hub
}

func (s *session) SignIn(ctx context.Context, creds models.LoginCredentials) error {
	if err := s.p.enter(ctx, "SignIn"); err != nil {
		return err
	}

	s.p.mu.Lock()
	a, ok := s.p.accounts[creds.Username]
	switch {
	case !ok || a.password != creds.Password:
		s.p.mu.Unlock()
		return rejected("NotAuthorizedException", "Incorrect username or password.")
	case !a.confirmed:
		s.p.mu.Unlock()
		return rejected("UserNotConfirmedException", "User is not confirmed.")
	}
	s.p.sessions[s.id] = creds.Username
	s.p.mu.Unlock()

	s.hub.Publish(identity.EventSignedIn)
	return nil
}

func (s *session) SignUp(ctx context.Context, creds models.SignupCredentials) error {
	if err := s.p.enter(ctx, "SignUp"); err != nil {
		return err
	}

	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if _, ok := s.p.accounts[creds.Username]; ok {
		return rejected("UsernameExistsException", "User already exists")
	}
	s.p.accounts[creds.Username] = &account{password: creds.Password, email: creds.Email}
	return nil
}

func (s *session) ConfirmSignUp(ctx context.Context, req models.ConfirmSignupRequest) error {
	if err := s.p.enter(ctx, "ConfirmSignUp"); err != nil {
		return err
	}

	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	a, ok := s.p.accounts[req.Username]
	if !ok {
		return rejected("UserNotFoundException", "Username/client id combination not found.")
	}
	if req.ConfirmationCode != DefaultCode {
		return rejected("CodeMismatchException", "Invalid verification code provided, please try again.")
	}
	a.confirmed = true
	return nil
}

func (s *session) ResendSignUpCode(ctx context.Context, username string) error {
	if err := s.p.enter(ctx, "ResendSignUpCode"); err != nil {
		return err
	}

	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if _, ok := s.p.accounts[username]; !ok {
		return rejected("UserNotFoundException", "Username/client id combination not found.")
	}
	s.p.resends[username]++
	return nil
}

func (s *session) SignOut(ctx context.Context) error {
	if err := s.p.enter(ctx, "SignOut"); err != nil {
		return err
	}

	s.p.mu.Lock()
	delete(s.p.sessions, s.id)
	s.p.mu.Unlock()

	s.hub.Publish(identity.EventSignedOut)
	return nil
}

func (s *session) GetCurrentUser(ctx context.Context) (*models.User, error) {
	if err := s.p.enter(ctx, "GetCurrentUser"); err != nil {
		return nil, err
	}

	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	username, ok := s.p.sessions[s.id]
	if !ok {
		return nil, identity.ErrNoCurrentUser
	}
	var email string
	if a := s.p.accounts[username]; a != nil {
		email = a.email
	}
	return &models.User{Username: username, UserID: "sub-" + username, Email: email}, nil
}

func (s *session) FetchAuthSession(ctx context.Context) (*models.AuthSession, error) {
	if err := s.p.enter(ctx, "FetchAuthSession"); err != nil {
		return nil, err
	}

	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	username, ok := s.p.sessions[s.id]
	if !ok {
		return &models.AuthSession{}, nil
	}
	return &models.AuthSession{Tokens: &models.Tokens{IDToken: Token(username)}}, nil
}
