// Package forms runs the login, signup and confirmation submits for one
// browser and turns their outcome into what the page should do next.
package forms

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shindakun/authweb/internal/identity"
	"github.com/shindakun/authweb/internal/models"
	"github.com/shindakun/authweb/internal/router"
)

// ErrSubmitting is returned when a form is submitted again while its
// previous submit is still waiting on the provider.
var ErrSubmitting = errors.New("a submit for this form is already in progress")

// Fallback texts for provider errors that carry no message
const (
	loginFallback   = "An error occurred during login"
	signupFallback  = "An error occurred during sign up"
	confirmFallback = "An error occurred during confirmation"
	resendFallback  = "Failed to resend confirmation code"

	// ResendSuccess is shown after a new code was sent
	ResendSuccess = "A new confirmation code has been sent to your email"
)

// Result is the outcome of one submit
type Result struct {
	Error    string // shown in the form's error banner
	Message  string // informational text shown in the same banner
	Redirect string // navigate here on success
	Forward  string // username carried to the next page as navigation state
	Busy     bool   // rejected because the form was already submitting
}

// OK reports whether the submit succeeded
func (r Result) OK() bool {
	return r.Error == "" && !r.Busy
}

// Form names one of a browser's forms
type Form int

const (
	LoginForm Form = iota
	SignupForm
	ConfirmForm
	ResendForm
)

func (f Form) String() string {
	switch f {
	case LoginForm:
		return "login"
	case SignupForm:
		return "signup"
	case ConfirmForm:
		return "confirm"
	case ResendForm:
		return "resend"
	default:
		return "unknown"
	}
}

type gate struct {
	busy atomic.Bool
}

func (g *gate) enter() bool {
	return g.busy.CompareAndSwap(false, true)
}

func (g *gate) leave() {
	g.busy.Store(false)
}

// Forms holds the per-form submitting gates of one browser
type Forms struct {
	client identity.Client
	logger *zap.SugaredLogger

	login   gate
	signup  gate
	confirm gate
	resend  gate
}

// New returns the forms for a browser whose provider client is client
func New(client identity.Client, logger *zap.SugaredLogger) *Forms {
	return &Forms{client: client, logger: logger}
}

// Submitting reports whether form has a submit in flight
func (f *Forms) Submitting(form Form) bool {
	if g := f.gate(form); g != nil {
		return g.busy.Load()
	}
	return false
}

func (f *Forms) gate(form Form) *gate {
	switch form {
	case LoginForm:
		return &f.login
	case SignupForm:
		return &f.signup
	case ConfirmForm:
		return &f.confirm
	case ResendForm:
		return &f.resend
	}
	return nil
}

// Login signs the user in. Failures are shown verbatim and the form stays usable.
func (f *Forms) Login(ctx context.Context, creds models.LoginCredentials) Result {
	if err := creds.Validate(); err != nil {
		return Result{Error: err.Error()}
	}
	if !f.login.enter() {
		return busy()
	}
	defer f.login.leave()

	if err := f.client.SignIn(ctx, creds); err != nil {
		f.logger.Infow("login failed", "username", creds.Username, "error", err)
		return Result{Error: message(err, loginFallback)}
	}
	return Result{Redirect: router.HomePath}
}

// Signup registers the user and forwards the username to confirmation
func (f *Forms) Signup(ctx context.Context, creds models.SignupCredentials) Result {
	if err := creds.Validate(); err != nil {
		return Result{Error: err.Error()}
	}
	if !f.signup.enter() {
		return busy()
	}
	defer f.signup.leave()

	if err := f.client.SignUp(ctx, creds); err != nil {
		f.logger.Infow("signup failed", "username", creds.Username, "error", err)
		return Result{Error: message(err, signupFallback)}
	}
	return Result{Redirect: router.ConfirmSignupPath, Forward: creds.Username}
}

// ConfirmSignup submits the code for the forwarded username. Without a
// forwarded username the user is sent back to signup.
func (f *Forms) ConfirmSignup(ctx context.Context, req models.ConfirmSignupRequest) Result {
	if req.Username == "" {
		return Result{Redirect: router.SignupPath}
	}
	if err := req.Validate(); err != nil {
		return Result{Error: err.Error()}
	}
	if !f.confirm.enter() {
		return busy()
	}
	defer f.confirm.leave()

	if err := f.client.ConfirmSignUp(ctx, req); err != nil {
		f.logger.Infow("confirmation failed", "username", req.Username, "error", err)
		return Result{Error: message(err, confirmFallback)}
	}
	return Result{Redirect: router.LoginPath}
}

// ResendCode sends a new confirmation code to the forwarded username
func (f *Forms) ResendCode(ctx context.Context, username string) Result {
	if username == "" {
		return Result{Redirect: router.SignupPath}
	}
	if !f.resend.enter() {
		return busy()
	}
	defer f.resend.leave()

	if err := f.client.ResendSignUpCode(ctx, username); err != nil {
		f.logger.Infow("resend code failed", "username", username, "error", err)
		return Result{Error: message(err, resendFallback)}
	}
	return Result{Message: ResendSuccess}
}

func busy() Result {
	return Result{Busy: true, Error: ErrSubmitting.Error()}
}

// message is the provider's own text, or fallback when it has none
func message(err error, fallback string) string {
	var idErr *identity.Error
	if errors.As(err, &idErr) {
		if idErr.Message != "" {
			return idErr.Message
		}
		return fallback
	}
	if err.Error() == "" {
		return fallback
	}
	return err.Error()
}
