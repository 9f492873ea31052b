// Package render resolves email templates into send-ready subject and body
// content using the Liquid template language.
package render

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/quotient/followup-engine/internal/domain"
)

// Rendered is the fully resolved content for one email.
type Rendered struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// Renderer compiles and renders Liquid templates with per-template caching.
// Missing variables render as empty strings, matching lax production sends.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // cacheKey -> *liquid.Template
}

// NewRenderer builds a Renderer with the engine's custom filters registered.
func NewRenderer() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ first_name | default: "there" }}
	r.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	// {{ name | capitalize }}
	r.engine.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	})

	// {{ email | urlencode }}
	r.engine.RegisterFilter("urlencode", url.QueryEscape)

	// {{ user_input | escape }}
	r.engine.RegisterFilter("escape", html.EscapeString)
}

// Resolve renders a template's subject and bodies against the merged
// variable context. The explicit variable bag wins over contact fields on
// key collision; the contact is also exposed under the "contact" namespace
// for {{ contact.email }} style references.
func (r *Renderer) Resolve(tpl *domain.EmailTemplate, contact *domain.Contact, vars map[string]string) (*Rendered, error) {
	ctx := r.buildContext(contact, vars)

	// The cache key carries the template's update stamp so an edited
	// template recompiles instead of serving the stale compilation.
	prefix := fmt.Sprintf("%s@%d", tpl.ID, tpl.UpdatedAt.UnixNano())

	subject, err := r.render(prefix+":subject", tpl.Subject, ctx)
	if err != nil {
		return nil, fmt.Errorf("render subject for template %s: %w", tpl.ID, err)
	}
	bodyHTML, err := r.render(prefix+":html", tpl.BodyHTML, ctx)
	if err != nil {
		return nil, fmt.Errorf("render html body for template %s: %w", tpl.ID, err)
	}
	bodyText, err := r.render(prefix+":text", tpl.BodyText, ctx)
	if err != nil {
		return nil, fmt.Errorf("render text body for template %s: %w", tpl.ID, err)
	}

	return &Rendered{Subject: subject, BodyHTML: bodyHTML, BodyText: bodyText}, nil
}

func (r *Renderer) buildContext(contact *domain.Contact, vars map[string]string) map[string]interface{} {
	ctx := make(map[string]interface{})
	if contact != nil {
		contactVars := contact.TemplateVars()
		for k, v := range contactVars {
			ctx[k] = v
		}
		ctx["contact"] = contactVars
	}
	for k, v := range vars {
		ctx[k] = v
	}
	return ctx
}

func (r *Renderer) render(cacheKey, source string, ctx map[string]interface{}) (string, error) {
	if cached, ok := r.cache.Load(cacheKey); ok {
		return cached.(*liquid.Template).RenderString(ctx)
	}
	tpl, err := r.engine.ParseString(source)
	if err != nil {
		return "", err
	}
	r.cache.Store(cacheKey, tpl)
	return tpl.RenderString(ctx)
}
