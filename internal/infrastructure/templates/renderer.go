package templates

import (
	"fmt"
	"html/template"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// NotFoundError reports a template name that is not in the loaded set.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string   { return fmt.Sprintf("template not found: %q", e.Name) }
func (e *NotFoundError) Permanent() bool { return true }
func (e *NotFoundError) Kind() string    { return "template_not_found" }

// RenderError reports a template that exists but failed to execute, e.g. a
// context key missing under strict mode.
type RenderError struct {
	Name string
	err  error
}

func (e *RenderError) Error() string   { return fmt.Sprintf("template %q render failed: %v", e.Name, e.err) }
func (e *RenderError) Unwrap() error   { return e.err }
func (e *RenderError) Permanent() bool { return true }
func (e *RenderError) Kind() string    { return "template_render" }

// Renderer loads every *.html under a directory once at startup and renders
// by file name. HTML auto-escaping comes from html/template; missing context
// keys are errors rather than silent blanks.
type Renderer struct {
	tmpl *template.Template
	lg   zerolog.Logger
}

func NewRenderer(dir string, lg zerolog.Logger) (*Renderer, error) {
	tmpl, err := template.New("").Option("missingkey=error").ParseGlob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("load templates from %q: %w", dir, err)
	}

	r := &Renderer{
		tmpl: tmpl,
		lg:   lg.With().Str("component", "template_renderer").Logger(),
	}

	names := make([]string, 0, len(tmpl.Templates()))
	for _, t := range tmpl.Templates() {
		if t.Name() != "" {
			names = append(names, t.Name())
		}
	}
	r.lg.Info().Str("dir", dir).Strs("templates", names).Msg("templates loaded")
	return r, nil
}

func (r *Renderer) Render(name string, data any) (string, error) {
	t := r.tmpl.Lookup(name)
	if t == nil {
		return "", &NotFoundError{Name: name}
	}

	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		return "", &RenderError{Name: name, err: err}
	}
	return buf.String(), nil
}
