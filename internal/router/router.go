// Package router holds the route table and decides, from a browser's auth
// state alone, whether a path renders, redirects or waits.
package router

import (
	"strings"

	"github.com/shindakun/authweb/internal/models"
)

// Paths
const (
	RootPath            = "/"
	LoginPath           = "/login"
	SignupPath          = "/signup"
	ConfirmSignupPath   = "/confirm-signup"
	ResendCodePath      = "/confirm-signup/resend"
	HomePath            = "/home"
	LogoutPath          = "/logout"
	HealthPath          = "/healthz"
	MetricsPath         = "/metrics"
	StaticPathPrefix    = "/static/"
	DefaultAuthedPath   = HomePath
	DefaultUnauthedPath = LoginPath
)

// Access is the class a path belongs to
type Access int

const (
	// Open paths render in any state
	Open Access = iota
	// PublicOnly paths are for signed-out users; signed-in users go home
	PublicOnly
	// Protected paths need a signed-in user
	Protected
	// RedirectOnly paths never render and send the user to their landing page
	RedirectOnly
)

func (a Access) String() string {
	switch a {
	case PublicOnly:
		return "public-only"
	case Protected:
		return "protected"
	case RedirectOnly:
		return "redirect"
	default:
		return "open"
	}
}

var routes = map[string]Access{
	RootPath:          RedirectOnly,
	LoginPath:         PublicOnly,
	SignupPath:        PublicOnly,
	ConfirmSignupPath: PublicOnly,
	ResendCodePath:    PublicOnly,
	HomePath:          Protected,
	LogoutPath:        Protected,
}

// Classify returns the access class of path. Unknown paths are Open.
func Classify(path string) Access {
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if access, ok := routes[path]; ok {
		return access
	}
	return Open
}

// Outcome is what the guard does with a request
type Outcome int

const (
	Render Outcome = iota
	Loading
	Redirect
)

// Decision is the result of Decide
type Decision struct {
	Outcome  Outcome
	Location string // set when Outcome is Redirect
}

// Decide applies the route table to state. While the state is loading no
// route decision is made, whatever the path.
func Decide(path string, state models.AuthState) Decision {
	if state.IsLoading {
		return Decision{Outcome: Loading}
	}

	switch Classify(path) {
	case RedirectOnly:
		if state.IsAuthenticated {
			return redirect(DefaultAuthedPath)
		}
		return redirect(DefaultUnauthedPath)
	case Protected:
		if !state.IsAuthenticated {
			return redirect(DefaultUnauthedPath)
		}
	case PublicOnly:
		if state.IsAuthenticated {
			return redirect(DefaultAuthedPath)
		}
	}
	return Decision{Outcome: Render}
}

func redirect(location string) Decision {
	return Decision{Outcome: Redirect, Location: location}
}
