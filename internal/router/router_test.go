package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shindakun/authweb/internal/models"
)

var (
	loading  = models.AuthState{IsLoading: true}
	signedIn = models.AuthState{IsAuthenticated: true}
	anon     = models.AuthState{}
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		state models.AuthState
		want  Decision
	}{
		{"home signed in", HomePath, signedIn, Decision{Outcome: Render}},
		{"home anonymous", HomePath, anon, Decision{Outcome: Redirect, Location: LoginPath}},
		{"home loading", HomePath, loading, Decision{Outcome: Loading}},
		{"login anonymous", LoginPath, anon, Decision{Outcome: Render}},
		{"login signed in", LoginPath, signedIn, Decision{Outcome: Redirect, Location: HomePath}},
		{"signup signed in", SignupPath, signedIn, Decision{Outcome: Redirect, Location: HomePath}},
		{"confirm anonymous", ConfirmSignupPath, anon, Decision{Outcome: Render}},
		{"confirm signed in", ConfirmSignupPath, signedIn, Decision{Outcome: Redirect, Location: HomePath}},
		{"resend signed in", ResendCodePath, signedIn, Decision{Outcome: Redirect, Location: HomePath}},
		{"logout anonymous", LogoutPath, anon, Decision{Outcome: Redirect, Location: LoginPath}},
		{"root signed in", RootPath, signedIn, Decision{Outcome: Redirect, Location: HomePath}},
		{"root anonymous", RootPath, anon, Decision{Outcome: Redirect, Location: LoginPath}},
		{"root loading", RootPath, loading, Decision{Outcome: Loading}},
		{"trailing slash", "/home/", anon, Decision{Outcome: Redirect, Location: LoginPath}},
		{"unknown loading", "/nowhere", loading, Decision{Outcome: Loading}},
		{"unknown signed in", "/nowhere", signedIn, Decision{Outcome: Render}},
		{"unknown anonymous", "/nowhere", anon, Decision{Outcome: Render}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.path, tt.state))
		})
	}
}

// No state ever renders a protected page while signed out or a public-only
// page while signed in, and nothing renders while loading.
func TestDecideNeverLeaks(t *testing.T) {
	states := []models.AuthState{loading, signedIn, anon, {IsAuthenticated: true, IsLoading: true}}
	paths := map[string]Access{"/nowhere": Open, "/static/app.css": Open}
	for path, access := range routes {
		paths[path] = access
	}
	for path, access := range paths {
		for _, state := range states {
			d := Decide(path, state)
			if d.Outcome != Render {
				continue
			}
			assert.False(t, state.IsLoading, "%s rendered while loading", path)
			if access == Protected {
				assert.True(t, state.IsAuthenticated, "%s rendered signed out", path)
			}
			if access == PublicOnly {
				assert.False(t, state.IsAuthenticated, "%s rendered signed in", path)
			}
			assert.NotEqual(t, RedirectOnly, access)
		}
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Protected, Classify("/home"))
	assert.Equal(t, PublicOnly, Classify("/login/"))
	assert.Equal(t, RedirectOnly, Classify("/"))
	assert.Equal(t, Open, Classify("/static/app.css"))
	assert.Equal(t, "public-only", PublicOnly.String())
}
