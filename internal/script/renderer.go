// Package script renders call scripts for the contact on a connected line.
package script

import (
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/acme/power-dialer/internal/domain"
)

// Renderer fills script templates written in text/template syntax:
//
//	Hi {{ first .Name }}, calling from Acme about {{ prop .Properties "product" | default "our product" }}.
//
// The data is the contact, with Phone set to the number being dialed.
// Parsed templates are cached by source.
type Renderer struct {
	cache sync.Map // string -> *template.Template
}

// NewRenderer returns an empty renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

type data struct {
	Name         string
	Organization string
	Phone        string
	Phones       []string
	Attempts     int
	Properties   map[string]any
}

// Render executes tmpl against contact.
func (r *Renderer) Render(tmpl string, contact domain.Contact) (string, error) {
	if tmpl == "" {
		return "", nil
	}
	t, err := r.parse(tmpl)
	if err != nil {
		return "", err
	}

	d := data{
		Name:         contact.Name,
		Organization: contact.Organization,
		Phone:        contact.DialNumber(),
		Phones:       contact.Phones,
		Attempts:     contact.DialAttempts,
		Properties:   contact.Properties,
	}
	var b strings.Builder
	if err := t.Execute(&b, d); err != nil {
		return "", fmt.Errorf("script: render: %w", err)
	}
	return b.String(), nil
}

func (r *Renderer) parse(tmpl string) (*template.Template, error) {
	if cached, ok := r.cache.Load(tmpl); ok {
		return cached.(*template.Template), nil
	}
	t, err := template.New("script").Option("missingkey=zero").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("script: parse: %w", err)
	}
	r.cache.Store(tmpl, t)
	return t, nil
}

var funcs = template.FuncMap{
	"first": func(s string) string {
		if f := strings.Fields(s); len(f) > 0 {
			return f[0]
		}
		return ""
	},
	"default": func(def string, v any) string {
		s := stringify(v)
		if strings.TrimSpace(s) == "" {
			return def
		}
		return s
	},
	"prop": func(props map[string]any, key string) string {
		return stringify(props[key])
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
