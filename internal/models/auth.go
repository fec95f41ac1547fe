package models

import (
	"errors"
	"strings"
	"time"
)

// Validation errors. Their text is shown in the form banner as written, so
// it reads as a sentence.
var (
	ErrLoginFieldsRequired  = errors.New("Username and password are required")
	ErrSignupFieldsRequired = errors.New("Username, password and email are required")
	ErrInvalidEmail         = errors.New("Email address is invalid")
	ErrUsernameRequired     = errors.New("Username is required")
	ErrConfirmationRequired = errors.New("Confirmation code is required")
)

// AuthState is the per-browser record of whether the current user is signed in.
// It lives in memory only; the identity provider owns the underlying tokens.
type AuthState struct {
	IsAuthenticated bool `json:"is_authenticated"`
	IsLoading       bool `json:"is_loading"` // true until the initial probe resolves
}

// LoginCredentials are collected by the login form for a single submit
type LoginCredentials struct {
	Username string
	Password string
}

// Validate checks that both fields were supplied
func (c LoginCredentials) Validate() error {
	if strings.TrimSpace(c.Username) == "" || c.Password == "" {
		return ErrLoginFieldsRequired
	}
	return nil
}

// SignupCredentials are collected by the signup form for a single submit
type SignupCredentials struct {
	Username string
	Password string
	Email    string
}

// Validate checks that all fields were supplied and the email looks like one
func (c SignupCredentials) Validate() error {
	if strings.TrimSpace(c.Username) == "" || c.Password == "" || strings.TrimSpace(c.Email) == "" {
		return ErrSignupFieldsRequired
	}
	if !strings.Contains(c.Email, "@") {
		return ErrInvalidEmail
	}
	return nil
}

// ConfirmSignupRequest carries the forwarded username and the code the user received
type ConfirmSignupRequest struct {
	Username         string
	ConfirmationCode string
}

// Validate checks that both fields were supplied
func (c ConfirmSignupRequest) Validate() error {
	if strings.TrimSpace(c.Username) == "" {
		return ErrUsernameRequired
	}
	if strings.TrimSpace(c.ConfirmationCode) == "" {
		return ErrConfirmationRequired
	}
	return nil
}

// Tokens are the credentials issued by the identity provider for one browser
type Tokens struct {
	IDToken      string    `json:"id_token"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExpiresWithin reports whether the tokens expire before now+skew
func (t *Tokens) ExpiresWithin(now time.Time, skew time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(t.ExpiresAt)
}

// AuthSession is the result of fetching the current session from the identity provider.
// Tokens is nil when nobody is signed in.
type AuthSession struct {
	Tokens *Tokens
}

// IDToken returns the bearer token for backend calls, or "" when there is none
func (s *AuthSession) IDToken() string {
	if s == nil || s.Tokens == nil {
		return ""
	}
	return s.Tokens.IDToken
}

// User is the signed-in user as described by the id token
type User struct {
	Username string `json:"username"`
	UserID   string `json:"sub"`
	Email    string `json:"email"`
}
