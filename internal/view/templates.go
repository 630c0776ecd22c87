package view

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	texttemplate "text/template"
	"time"

	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
	"github.com/odyssey-erp/odyssey-accounts/web"
)

// Engine renders HTML pages and plain-text emails.
type Engine struct {
	templates *template.Template
	emails    *texttemplate.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title          string
	CSRFToken      string
	Flash          *shared.FlashMessage
	CurrentPath    string
	CurrentUser    string
	EmailConfirmed bool
	Data           any
}

// IsAuthenticated reports whether the page is rendered for a signed in user.
func (d TemplateData) IsAuthenticated() bool {
	return d.CurrentUser != ""
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"fieldError": func(errs map[string]string, field string) string {
			if errs == nil {
				return ""
			}
			return errs[field]
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates,
		"templates/partials/*.html",
		"templates/pages/*.html",
		"templates/pages/accounts/*.html",
	)
	if err != nil {
		return nil, fmt.Errorf("view: parse pages: %w", err)
	}
	emails, err := texttemplate.New("emails").ParseFS(web.Templates, "templates/emails/*.txt")
	if err != nil {
		return nil, fmt.Errorf("view: parse emails: %w", err)
	}
	return &Engine{templates: tpl, emails: emails}, nil
}

// Render executes a named template with TemplateData and a 200 status.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	return e.RenderStatus(w, http.StatusOK, name, data)
}

// RenderStatus executes a named template into a buffer and writes it with status.
func (e *Engine) RenderStatus(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// RenderText executes a plain-text email template.
func (e *Engine) RenderText(name string, data any) (string, error) {
	if e == nil {
		return "", fmt.Errorf("template engine not initialised")
	}
	var buf bytes.Buffer
	if err := e.emails.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
