package auth

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const (
	sessionName               = "authweb-session"
	sessionKeyBrowserID       = "browser_id"
	sessionKeyPendingUsername = "pending_username"
)

// FlashKind selects the banner a flash message is shown in
type FlashKind string

const (
	FlashError FlashKind = "error"
	FlashInfo  FlashKind = "info"
)

// SessionManager handles the signed browser cookie. The cookie carries the
// browser id, the username forwarded from signup to confirmation and
// one-shot flash messages. Provider tokens never go into it.
type SessionManager struct {
	store *sessions.CookieStore
}

// InitSessions creates a new session manager with HTTP-only cookies
func InitSessions(secret string, maxAge int, secure bool, sameSite http.SameSite) *SessionManager {
	store := sessions.NewCookieStore([]byte(secret))

	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true, // Prevent JavaScript access
		Secure:   secure,
		SameSite: sameSite,
	}

	return &SessionManager{store: store}
}

// get returns the cookie session. A cookie that fails to decode (rotated
// secret, tampering) is replaced by a fresh session.
func (sm *SessionManager) get(r *http.Request) *sessions.Session {
	session, err := sm.store.Get(r, sessionName)
	if err != nil {
		session, _ = sm.store.New(r, sessionName)
	}
	return session
}

// BrowserID returns the id of the browser making r, issuing and saving a new
// one when the cookie has none.
func (sm *SessionManager) BrowserID(w http.ResponseWriter, r *http.Request) (string, error) {
	session := sm.get(r)

	if id, ok := session.Values[sessionKeyBrowserID].(string); ok && id != "" {
		return id, nil
	}

	id := uuid.New().String()
	session.Values[sessionKeyBrowserID] = id
	if err := session.Save(r, w); err != nil {
		return "", fmt.Errorf("failed to save cookie session: %w", err)
	}
	return id, nil
}

// SetBrowserID replaces the browser id in the cookie. The rest of the cookie
// session is kept.
func (sm *SessionManager) SetBrowserID(w http.ResponseWriter, r *http.Request, id string) error {
	session := sm.get(r)
	session.Values[sessionKeyBrowserID] = id
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to save cookie session: %w", err)
	}
	return nil
}

// SetPendingUsername remembers the username a confirmation code was sent to
func (sm *SessionManager) SetPendingUsername(w http.ResponseWriter, r *http.Request, username string) error {
	session := sm.get(r)
	session.Values[sessionKeyPendingUsername] = username
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to save cookie session: %w", err)
	}
	return nil
}

// PendingUsername returns the forwarded username, or "" if there is none
func (sm *SessionManager) PendingUsername(r *http.Request) string {
	username, _ := sm.get(r).Values[sessionKeyPendingUsername].(string)
	return username
}

// ClearPendingUsername forgets the forwarded username
func (sm *SessionManager) ClearPendingUsername(w http.ResponseWriter, r *http.Request) error {
	session := sm.get(r)
	if _, ok := session.Values[sessionKeyPendingUsername]; !ok {
		return nil
	}
	delete(session.Values, sessionKeyPendingUsername)
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to save cookie session: %w", err)
	}
	return nil
}

// AddFlash queues a message for the next page rendered for this browser
func (sm *SessionManager) AddFlash(w http.ResponseWriter, r *http.Request, kind FlashKind, message string) error {
	session := sm.get(r)
	session.AddFlash(message, string(kind))
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to save cookie session: %w", err)
	}
	return nil
}

// Flashes removes and returns the queued messages of kind
func (sm *SessionManager) Flashes(w http.ResponseWriter, r *http.Request, kind FlashKind) []string {
	session := sm.get(r)
	raw := session.Flashes(string(kind))
	if len(raw) == 0 {
		return nil
	}
	// a failed save only means the flash may be shown again
	_ = session.Save(r, w)

	messages := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			messages = append(messages, s)
		}
	}
	return messages
}
