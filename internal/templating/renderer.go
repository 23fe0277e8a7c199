package templating

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"
	"github.com/valyala/fasttemplate"
)

const (
	startTag = "{{"
	endTag   = "}}"
)

// Template names carried by RenderError.
const (
	TemplateSubject = "subject"
	TemplateBody    = "body"
)

// ErrMissingPlaceholder is matched by every RenderError.
var ErrMissingPlaceholder = errors.New("templating: placeholder not found in context")

// RenderError reports a placeholder that has no value in the render context.
type RenderError struct {
	Template    string
	Placeholder string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("templating: %s references unknown placeholder %q", e.Template, e.Placeholder)
}

func (e *RenderError) Unwrap() error { return ErrMissingPlaceholder }

// Context holds the string values available to a single render.
type Context map[string]string

// Options tune a Renderer.
type Options struct {
	// AllowMissing substitutes "" for unknown placeholders instead of failing.
	AllowMissing bool
	// OnMissing is called for every substituted placeholder when AllowMissing
	// is set.
	OnMissing func(template, placeholder string)
	// Markdown converts the rendered body from markdown to HTML.
	Markdown bool
}

// Renderer renders subject and body templates with `{{ name }}` placeholders.
type Renderer struct {
	opts Options
}

// NewRenderer builds a Renderer.
func NewRenderer(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

// Render renders subject and body against ctx. The subject is rendered
// first so a subject failure is reported even when the body is also broken.
func (r *Renderer) Render(subjectTpl, bodyTpl string, ctx Context) (string, string, error) {
	subject, err := r.render(TemplateSubject, subjectTpl, ctx)
	if err != nil {
		return "", "", err
	}
	body, err := r.render(TemplateBody, bodyTpl, ctx)
	if err != nil {
		return "", "", err
	}
	if r.opts.Markdown {
		body, err = MarkdownToHTML(body)
		if err != nil {
			return "", "", err
		}
	}
	return subject, body, nil
}

func (r *Renderer) render(name, tpl string, ctx Context) (string, error) {
	t, err := fasttemplate.NewTemplate(tpl, startTag, endTag)
	if err != nil {
		return "", fmt.Errorf("templating: parse %s: %w", name, err)
	}
	return t.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		key := strings.TrimSpace(tag)
		if v, ok := ctx[key]; ok {
			return io.WriteString(w, v)
		}
		if !r.opts.AllowMissing {
			return 0, &RenderError{Template: name, Placeholder: key}
		}
		if r.opts.OnMissing != nil {
			r.opts.OnMissing(name, key)
		}
		return 0, nil
	})
}

// Placeholders returns the distinct placeholder names used by tpl in order
// of first appearance.
func Placeholders(tpl string) []string {
	t, err := fasttemplate.NewTemplate(tpl, startTag, endTag)
	if err != nil {
		return nil
	}
	var names []string
	t.ExecuteFuncString(func(_ io.Writer, tag string) (int, error) {
		names = append(names, strings.TrimSpace(tag))
		return 0, nil
	})
	return lo.Uniq(names)
}
