package handlers

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/gorilla/csrf"

	"github.com/shindakun/authweb/internal/models"
)

// Page names, one file each under templates/pages
const (
	pageLogin         = "login"
	pageSignup        = "signup"
	pageConfirmSignup = "confirm_signup"
	pageHome          = "home"
	pageLoading       = "loading"
	pageError         = "error"
)

var pageNames = []string{pageLogin, pageSignup, pageConfirmSignup, pageHome, pageLoading, pageError}

// TemplateData holds common data passed to templates
type TemplateData struct {
	Title          string
	Error          string
	Message        string
	Username       string // repopulates forms and names the account being confirmed
	Email          string
	UserData       *models.UserData
	Authenticated  bool
	Submitting     bool // disables the submit button
	RefreshSeconds int  // reload the page after this many seconds
	Version        string
	CSRFField      template.HTML
}

// Pages are the parsed page templates
type Pages struct {
	templates map[string]*template.Template
}

// ParsePages parses each page together with the base layout from fsys
func ParsePages(fsys fs.FS) (*Pages, error) {
	p := &Pages{templates: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		tmpl, err := template.New(name).ParseFS(fsys,
			"templates/layouts/base.html",
			"templates/pages/"+name+".html",
		)
		if err != nil {
			return nil, fmt.Errorf("failed to parse page %s: %w", name, err)
		}
		p.templates[name] = tmpl
	}
	return p, nil
}

// renderTemplate renders a page with the base layout. The page is rendered
// into a buffer first so a template error never sends a partial page.
func (h *Handlers) renderTemplate(w http.ResponseWriter, r *http.Request, name string, status int, data TemplateData) {
	tmpl, ok := h.pages.templates[name]
	if !ok {
		h.logger.Errorw("unknown page", "page", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	data.CSRFField = csrf.TemplateField(r)
	data.Version = h.version

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		h.logger.Errorw("failed to render page", "page", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
