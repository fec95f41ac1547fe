// Package identity wraps the managed identity provider behind a small,
// per-browser client interface and a typed sign-in/sign-out event hub.
package identity

import (
	"context"
	"errors"

	"github.com/shindakun/authweb/internal/models"
)

// ErrNoCurrentUser is returned by GetCurrentUser when nobody is signed in
var ErrNoCurrentUser = errors.New("no current user")

// Client is the identity provider as seen by one browser session
type Client interface {
	SignIn(ctx context.Context, creds models.LoginCredentials) error
	SignUp(ctx context.Context, creds models.SignupCredentials) error
	ConfirmSignUp(ctx context.Context, req models.ConfirmSignupRequest) error
	ResendSignUpCode(ctx context.Context, username string) error
	SignOut(ctx context.Context) error
	GetCurrentUser(ctx context.Context) (*models.User, error)
	FetchAuthSession(ctx context.Context) (*models.AuthSession, error)
}

// Provider hands out a Client bound to one browser session.
// Successful sign-in and sign-out are announced on hub.
// MoveSession re-keys a signed-in session's tokens from fromID to toID;
// afterwards fromID holds nothing.
type Provider interface {
	ForSession(sessionID string, hub *Hub) Client
	MoveSession(ctx context.Context, fromID, toID string) error
}

// Error is a failed identity operation. Message is the provider's own text
// and is meant to be shown to the user unchanged.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode returns the provider error code carried by err, or ""
func ErrorCode(err error) string {
	var idErr *Error
	if errors.As(err, &idErr) {
		return idErr.Code
	}
	return ""
}
