// Package preview writes rendered messages into a static HTML gallery and
// produces plain-text snippets for console output.
package preview

import (
	"bytes"
	_ "embed"
	"fmt"
	"html"
	"html/template"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// DirTimeLayout names each gallery directory.
const DirTimeLayout = "20060102-150405"

//go:embed gallery.html.tmpl
var galleryTemplate string

var (
	gallery = template.Must(template.New("gallery").Parse(galleryTemplate))

	bodyPolicy = bluemonday.UGCPolicy()
	textPolicy = bluemonday.StrictPolicy()

	whitespace = regexp.MustCompile(`\s+`)
)

// Entry is one rendered message shown in the gallery.
type Entry struct {
	Position  int
	Recipient string
	Subject   string
	Body      string
}

type card struct {
	Position  int
	Recipient string
	Subject   string
	Body      template.HTML
}

// Build renders the gallery page. Message bodies are sanitized before being
// embedded so scripts and event handlers from templates never run.
func Build(generatedAt time.Time, entries []Entry) ([]byte, error) {
	cards := make([]card, 0, len(entries))
	for _, e := range entries {
		subject := e.Subject
		if strings.TrimSpace(subject) == "" {
			subject = "(sem assunto)"
		}
		cards = append(cards, card{
			Position:  e.Position,
			Recipient: e.Recipient,
			Subject:   subject,
			Body: template.HTML(bodyPolicy.Sanitize(e.Body)),
		})
	}

	var buf bytes.Buffer
	err := gallery.Execute(&buf, struct {
		GeneratedAt string
		Cards       []card
	}{
		GeneratedAt: generatedAt.Format("2006-01-02 15:04:05"),
		Cards:       cards,
	})
	if err != nil {
		return nil, fmt.Errorf("preview: render gallery: %w", err)
	}
	return buf.Bytes(), nil
}

// Write builds the gallery and stores it as <root>/<timestamp>/index.html.
// It returns the path of the written file.
func Write(root string, generatedAt time.Time, entries []Entry) (string, error) {
	page, err := Build(generatedAt, entries)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, generatedAt.Format(DirTimeLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("preview: create dir: %w", err)
	}
	path := filepath.Join(dir, "index.html")
	if err := os.WriteFile(path, page, 0o644); err != nil {
		return "", fmt.Errorf("preview: write gallery: %w", err)
	}
	return path, nil
}

// Snippet strips markup and truncates the text to limit runes.
func Snippet(markup string, limit int) string {
	text := html.UnescapeString(textPolicy.Sanitize(strings.ReplaceAll(markup, "<", " <")))
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return strings.TrimRight(string(runes[:limit]), " ") + "..."
}
