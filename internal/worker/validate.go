package worker

import (
	"fmt"

	"github.com/example/emaileria/internal/models"
	"github.com/example/emaileria/internal/templating"
)

// Rendered is a message rendered for inspection, never sent.
type Rendered struct {
	Row       int
	Position  int
	Recipient string
	Subject   string
	Body      string
}

// Render renders the first limit recipients of req (all of them when limit
// is 0) without touching the transport. It applies the same required-field
// and placeholder rules as SendAll, so a run that renders cleanly here
// will not abort on a template error.
func (e *Engine) Render(req SendRequest, limit int) ([]Rendered, error) {
	if err := e.checkRequired(req, e.logger); err != nil {
		return nil, err
	}

	n := len(req.Recipients)
	if limit > 0 && limit < n {
		n = limit
	}
	renderer := templating.NewRenderer(templating.Options{
		AllowMissing: req.Options.AllowMissingFields,
		Markdown:     req.Options.Markdown,
	})

	out := make([]Rendered, 0, n)
	for i, rec := range req.Recipients[:n] {
		info := RowInfo{Row: rowFor(req.Options.Rows, i), Position: i + 1}
		values := BuildContext(rec, info, e.now())
		subject, body, err := renderer.Render(req.SubjectTemplate, req.BodyTemplate, values)
		if err != nil {
			return out, fmt.Errorf("worker: row %d: %w", info.Row, err)
		}
		out = append(out, Rendered{
			Row:       info.Row,
			Position:  info.Position,
			Recipient: values[models.KeyEmail],
			Subject:   subject,
			Body:      body,
		})
	}
	return out, nil
}
