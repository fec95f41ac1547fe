package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/shindakun/authweb/internal/api"
	"github.com/shindakun/authweb/internal/auth"
	"github.com/shindakun/authweb/internal/forms"
	"github.com/shindakun/authweb/internal/models"
	"github.com/shindakun/authweb/internal/router"
)

// User-facing texts
const (
	FetchFailedMessage   = "Failed to fetch user data. Please try again."
	SignedOutMessage     = "You have been signed out."
	SignOutFailedMessage = "Sign out failed. Please try again."
	ConfirmedMessage     = "Your account is confirmed. Please sign in."
)

// Handlers holds dependencies for HTTP handlers
type Handlers struct {
	sessions *auth.SessionManager
	registry *auth.Registry
	pages    *Pages
	version  string
	logger   *zap.SugaredLogger
}

// New creates a new Handlers instance
func New(sessions *auth.SessionManager, registry *auth.Registry, pages *Pages, version string, logger *zap.SugaredLogger) *Handlers {
	return &Handlers{
		sessions: sessions,
		registry: registry,
		pages:    pages,
		version:  version,
		logger:   logger,
	}
}

// runtime returns the browser runtime placed in the context by middleware
func (h *Handlers) runtime(w http.ResponseWriter, r *http.Request) (*auth.Runtime, bool) {
	rt, ok := auth.RuntimeFromContext(r.Context())
	if !ok {
		h.logger.Errorw("handler reached without a browser runtime", "path", r.URL.Path)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
	return rt, ok
}

// detached keeps provider calls running when the browser goes away.
// Callers check abandoned before writing a response.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func abandoned(r *http.Request) bool {
	return r.Context().Err() != nil
}

// page builds the common template data for a page
func (h *Handlers) page(w http.ResponseWriter, r *http.Request, rt *auth.Runtime, title string) TemplateData {
	data := TemplateData{
		Title:         title,
		Authenticated: rt.State.State().IsAuthenticated,
	}
	if msgs := h.sessions.Flashes(w, r, auth.FlashError); len(msgs) > 0 {
		data.Error = strings.Join(msgs, " ")
	}
	if msgs := h.sessions.Flashes(w, r, auth.FlashInfo); len(msgs) > 0 {
		data.Message = strings.Join(msgs, " ")
	}
	return data
}

func (h *Handlers) flash(w http.ResponseWriter, r *http.Request, kind auth.FlashKind, message string) {
	if err := h.sessions.AddFlash(w, r, kind, message); err != nil {
		h.logger.Errorw("failed to save flash", "error", err)
	}
}

// formStatus maps a failed submit to a status code
func formStatus(res forms.Result) int {
	if res.Busy {
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

// Root sends the browser to its landing page. The guard normally answers
// first; this covers a state change between guard and handler.
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	if rt.State.State().IsAuthenticated {
		http.Redirect(w, r, router.HomePath, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, router.LoginPath, http.StatusSeeOther)
}

// LoginPage renders the login form
func (h *Handlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	data := h.page(w, r, rt, "Sign in")
	data.Submitting = rt.Forms.Submitting(forms.LoginForm)
	h.renderTemplate(w, r, pageLogin, http.StatusOK, data)
}

// LoginSubmit signs the browser in
func (h *Handlers) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}

	creds := models.LoginCredentials{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Password: r.PostFormValue("password"),
	}
	res := rt.Forms.Login(detached(r), creds)
	if res.OK() {
		// The id this browser had before signing in must not carry the
		// session, so it is replaced even when nobody is waiting for the answer.
		err := h.rotate(w, r, rt)
		if abandoned(r) {
			return
		}
		if err != nil {
			h.logger.Errorw("failed to rotate browser id after sign in", "error", err)
			h.InternalError(w, r)
			return
		}
		http.Redirect(w, r, res.Redirect, http.StatusSeeOther)
		return
	}
	if abandoned(r) {
		return
	}

	data := h.page(w, r, rt, "Sign in")
	data.Error = res.Error
	data.Username = creds.Username
	data.Submitting = res.Busy
	h.renderTemplate(w, r, pageLogin, formStatus(res), data)
}

// rotate moves the signed-in session to a fresh browser id and hands the
// browser its new cookie
func (h *Handlers) rotate(w http.ResponseWriter, r *http.Request, rt *auth.Runtime) error {
	next, err := h.registry.Rotate(detached(r), rt.ID)
	if err != nil {
		return err
	}
	return h.sessions.SetBrowserID(w, r, next.ID)
}

// SignupPage renders the signup form
func (h *Handlers) SignupPage(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	data := h.page(w, r, rt, "Sign up")
	data.Submitting = rt.Forms.Submitting(forms.SignupForm)
	h.renderTemplate(w, r, pageSignup, http.StatusOK, data)
}

// SignupSubmit registers a new account and forwards its username to confirmation
func (h *Handlers) SignupSubmit(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}

	creds := models.SignupCredentials{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Password: r.PostFormValue("password"),
		Email:    strings.TrimSpace(r.PostFormValue("email")),
	}
	res := rt.Forms.Signup(detached(r), creds)
	if abandoned(r) {
		return
	}

	if res.OK() {
		if err := h.sessions.SetPendingUsername(w, r, res.Forward); err != nil {
			h.logger.Errorw("failed to store pending username", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, res.Redirect, http.StatusSeeOther)
		return
	}

	data := h.page(w, r, rt, "Sign up")
	data.Error = res.Error
	data.Username = creds.Username
	data.Email = creds.Email
	data.Submitting = res.Busy
	h.renderTemplate(w, r, pageSignup, formStatus(res), data)
}

// ConfirmSignupPage renders the code form for the forwarded username.
// Without one the browser is sent to signup.
func (h *Handlers) ConfirmSignupPage(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}

	username := h.sessions.PendingUsername(r)
	if username == "" {
		http.Redirect(w, r, router.SignupPath, http.StatusSeeOther)
		return
	}

	data := h.page(w, r, rt, "Confirm sign up")
	data.Username = username
	data.Submitting = rt.Forms.Submitting(forms.ConfirmForm)
	h.renderTemplate(w, r, pageConfirmSignup, http.StatusOK, data)
}

// ConfirmSignupSubmit confirms the forwarded username with the submitted code
func (h *Handlers) ConfirmSignupSubmit(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}

	req := models.ConfirmSignupRequest{
		Username:         h.sessions.PendingUsername(r),
		ConfirmationCode: strings.TrimSpace(r.PostFormValue("code")),
	}
	res := rt.Forms.ConfirmSignup(detached(r), req)
	if abandoned(r) {
		return
	}

	switch {
	case res.OK() && res.Redirect == router.LoginPath:
		if err := h.sessions.ClearPendingUsername(w, r); err != nil {
			h.logger.Errorw("failed to clear pending username", "error", err)
		}
		h.flash(w, r, auth.FlashInfo, ConfirmedMessage)
		http.Redirect(w, r, res.Redirect, http.StatusSeeOther)
		return
	case res.OK():
		http.Redirect(w, r, res.Redirect, http.StatusSeeOther)
		return
	}

	data := h.page(w, r, rt, "Confirm sign up")
	data.Error = res.Error
	data.Username = req.Username
	data.Submitting = res.Busy
	h.renderTemplate(w, r, pageConfirmSignup, formStatus(res), data)
}

// ResendCode sends a new confirmation code to the forwarded username
func (h *Handlers) ResendCode(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}

	username := h.sessions.PendingUsername(r)
	res := rt.Forms.ResendCode(detached(r), username)
	if abandoned(r) {
		return
	}

	if res.Redirect != "" {
		http.Redirect(w, r, res.Redirect, http.StatusSeeOther)
		return
	}

	data := h.page(w, r, rt, "Confirm sign up")
	data.Username = username
	status := http.StatusOK
	if res.OK() {
		data.Message = res.Message
	} else {
		data.Error = res.Error
		status = formStatus(res)
	}
	h.renderTemplate(w, r, pageConfirmSignup, status, data)
}

// Home fetches the protected resource once and renders it. A 401 means the
// provider session is stale: the browser is signed out and sent to login.
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}

	ctx := detached(r)
	userData, err := rt.Fetcher.Fetch(ctx)
	if abandoned(r) {
		return
	}

	if api.IsUnauthorized(err) {
		if signOutErr := rt.State.SignOut(ctx); signOutErr == nil {
			h.flash(w, r, auth.FlashError, FetchFailedMessage)
			http.Redirect(w, r, router.LoginPath, http.StatusSeeOther)
			return
		}
		// Redirecting while still signed in would bounce straight back here
	}

	data := h.page(w, r, rt, "Home")
	status := http.StatusOK
	if err != nil {
		data.Error = FetchFailedMessage
		status = http.StatusBadGateway
		if errors.Is(err, api.ErrNoToken) {
			status = http.StatusOK
		}
	} else {
		data.UserData = userData
	}
	h.renderTemplate(w, r, pageHome, status, data)
}

// Logout signs the browser out
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}

	err := rt.State.SignOut(detached(r))
	if abandoned(r) {
		return
	}

	if err != nil {
		h.flash(w, r, auth.FlashError, SignOutFailedMessage)
		http.Redirect(w, r, router.HomePath, http.StatusSeeOther)
		return
	}

	h.flash(w, r, auth.FlashInfo, SignedOutMessage)
	http.Redirect(w, r, router.LoginPath, http.StatusSeeOther)
}

// Loading renders the placeholder shown while the initial probe runs
func (h *Handlers) Loading(w http.ResponseWriter, r *http.Request) {
	h.renderTemplate(w, r, pageLoading, http.StatusOK, TemplateData{
		Title:          "Loading",
		RefreshSeconds: 1,
	})
}

// NotFound renders the 404 page
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.renderTemplate(w, r, pageError, http.StatusNotFound, TemplateData{Title: "Page not found"})
}

// InternalError renders the 500 page
func (h *Handlers) InternalError(w http.ResponseWriter, r *http.Request) {
	h.renderTemplate(w, r, pageError, http.StatusInternalServerError, TemplateData{Title: "Something went wrong"})
}

// Health reports that the server is up
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}
