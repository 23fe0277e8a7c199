package templating_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/example/emaileria/internal/templating"
)

func TestRenderSubstitutesPlaceholders(t *testing.T) {
	r := templating.NewRenderer(templating.Options{})
	subject, body, err := r.Render(
		"Olá {{ nome }}",
		"<p>{{tratamento}} {{ nome }}, {{ Cidade }}</p>",
		templating.Context{"nome": "Ana", "tratamento": "Sra.", "Cidade": "Recife"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Olá Ana" {
		t.Fatalf("unexpected subject %q", subject)
	}
	if body != "<p>Sra. Ana, Recife</p>" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestRenderMissingPlaceholderFails(t *testing.T) {
	r := templating.NewRenderer(templating.Options{})

	_, _, err := r.Render("Oi {{ nome }}", "{{ cargo }}", templating.Context{"nome": "Ana"})
	if !errors.Is(err, templating.ErrMissingPlaceholder) {
		t.Fatalf("expected ErrMissingPlaceholder, got %v", err)
	}
	var rerr *templating.RenderError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RenderError, got %T", err)
	}
	if rerr.Template != templating.TemplateBody || rerr.Placeholder != "cargo" {
		t.Fatalf("unexpected render error %+v", rerr)
	}

	_, _, err = r.Render("{{ x }}", "{{ y }}", nil)
	if !errors.As(err, &rerr) || rerr.Template != templating.TemplateSubject {
		t.Fatalf("expected subject error first, got %v", err)
	}
}

func TestRenderAllowMissingSubstitutesEmpty(t *testing.T) {
	var seen []string
	r := templating.NewRenderer(templating.Options{
		AllowMissing: true,
		OnMissing: func(template, placeholder string) {
			seen = append(seen, template+":"+placeholder)
		},
	})

	subject, body, err := r.Render("[{{ a }}]", "x{{ b }}y", templating.Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "[]" || body != "xy" {
		t.Fatalf("unexpected output %q / %q", subject, body)
	}
	if !reflect.DeepEqual(seen, []string{"subject:a", "body:b"}) {
		t.Fatalf("unexpected warnings %v", seen)
	}
}

func TestRenderRoundTripsEveryPlaceholder(t *testing.T) {
	tpl := "{{ email }}|{{ nome }}|{{ tratamento }}|{{ extra }}"
	names := templating.Placeholders(tpl)
	ctx := templating.Context{}
	for _, n := range names {
		ctx[n] = "<" + n + ">"
	}

	r := templating.NewRenderer(templating.Options{})
	_, body, err := r.Render("", tpl, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, n := range names {
		if !strings.Contains(body, "<"+n+">") {
			t.Fatalf("body %q lacks value for %s", body, n)
		}
	}
	if strings.Contains(body, "{{") {
		t.Fatalf("body still has placeholders: %q", body)
	}
}

func TestPlaceholders(t *testing.T) {
	got := templating.Placeholders("{{ nome }} e {{nome}} e {{ hoje }}")
	want := []string{"nome", "hoje"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got := templating.Placeholders("sem marcadores"); len(got) != 0 {
		t.Fatalf("expected none, got %v", got)
	}
}

func TestRenderMarkdownBody(t *testing.T) {
	r := templating.NewRenderer(templating.Options{Markdown: true})
	_, body, err := r.Render("s", "**{{ nome }}**", templating.Context{"nome": "Ana"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(body, "<strong>Ana</strong>") {
		t.Fatalf("expected markdown html, got %q", body)
	}
}

func TestGlobalsAndMerge(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	g := templating.Globals(now)
	if g["now"] != "2024-03-09 14:05:07" || g["hoje"] != "2024-03-09" || g["hora_envio"] != "14:05" {
		t.Fatalf("unexpected globals %v", g)
	}

	merged := templating.Merge(g, templating.Context{"hoje": "amanhã", "nome": "Ana"})
	if merged["hoje"] != "amanhã" {
		t.Fatalf("contact value must override global, got %q", merged["hoje"])
	}
	if merged["data_envio"] != "2024-03-09" || merged["nome"] != "Ana" {
		t.Fatalf("unexpected merge %v", merged)
	}
	if g["hoje"] != "2024-03-09" {
		t.Fatalf("globals mutated")
	}
}
