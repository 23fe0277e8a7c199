package worker_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/emaileria/internal/models"
	"github.com/example/emaileria/internal/templating"
	"github.com/example/emaileria/internal/worker"
)

const (
	subjectTpl = "Olá {{ nome }}"
	bodyTpl    = "<p>{{ tratamento }} {{ nome }}</p>"
)

func newEngine(t *testing.T, sleeper *sleepRecorder, status *statusCollector) *worker.Engine {
	t.Helper()
	deps := worker.Dependencies{
		Logger: zerolog.New(io.Discard),
		Now:    func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) },
	}
	if sleeper != nil {
		deps.Sleep = sleeper.Sleep
	}
	if status != nil {
		deps.StatusPublisher = status
	}
	engine, err := worker.NewEngine(worker.Config{MaxAttempts: 4}, deps)
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	return engine
}

func threeContacts() []models.ContactRecord {
	return []models.ContactRecord{
		contact("a@example.com", "Sra.", "Ana"),
		contact("b@example.com", "Sr.", "Bruno"),
		contact("c@example.com", "Dra.", "Carla"),
	}
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := worker.NewEngine(worker.Config{MaxAttempts: -1}, worker.Dependencies{}); err == nil {
		t.Fatalf("expected error for negative attempts")
	}
	if _, err := worker.NewEngine(worker.Config{Backoff: []time.Duration{-time.Second}}, worker.Dependencies{}); err == nil {
		t.Fatalf("expected error for negative backoff")
	}
	if _, err := worker.NewEngine(worker.Config{}, worker.Dependencies{}); err != nil {
		t.Fatalf("zero config must use defaults: %v", err)
	}
}

func TestSendAllDryRunProducesOneSuccessPerContact(t *testing.T) {
	sleeper := &sleepRecorder{}
	engine := newEngine(t, sleeper, nil)

	out, err := engine.SendAll(context.Background(), worker.SendRequest{
		Sender:          "news@example.com",
		Recipients:      threeContacts(),
		SubjectTemplate: subjectTpl,
		BodyTemplate:    bodyTpl,
		DryRun:          true,
		Options:         worker.Options{Interval: time.Second},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out.Results))
	}
	for i, res := range out.Results {
		if !res.Success || res.Attempts != 0 || !res.DryRun {
			t.Fatalf("result %d: unexpected %+v", i, res)
		}
	}
	if out.Results[1].Subject != "Olá Bruno" || out.Results[1].Row != 2 {
		t.Fatalf("unexpected dry-run result %+v", out.Results[1])
	}
	if len(sleeper.recorded()) != 0 {
		t.Fatalf("dry runs must not pause, got %v", sleeper.recorded())
	}
	if out.RunID == "" {
		t.Fatalf("expected a run id")
	}
}

func TestSendAllRequiresTransport(t *testing.T) {
	engine := newEngine(t, nil, nil)
	out, err := engine.SendAll(context.Background(), worker.SendRequest{Recipients: threeContacts()})
	if !errors.Is(err, worker.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if len(out.Results) != 0 {
		t.Fatalf("expected no results, got %d", len(out.Results))
	}
}

func TestSendAllEmptyRecipients(t *testing.T) {
	engine := newEngine(t, nil, nil)
	out, err := engine.SendAll(context.Background(), worker.SendRequest{Transport: newTransportStub()})
	if err != nil || len(out.Results) != 0 || out.Cancelled {
		t.Fatalf("expected empty outcome, got %+v %v", out, err)
	}
}

func TestSendAllMissingRequiredFieldFailsBeforeSending(t *testing.T) {
	transport := newTransportStub()
	engine := newEngine(t, &sleepRecorder{}, nil)

	contacts := threeContacts()
	delete(contacts[2], "nome")
	contacts[1]["tratamento"] = "  "

	out, err := engine.SendAll(context.Background(), worker.SendRequest{
		Sender:          "news@example.com",
		Recipients:      contacts,
		SubjectTemplate: subjectTpl,
		BodyTemplate:    bodyTpl,
		Transport:       transport,
	})
	if !errors.Is(err, worker.ErrDataValidation) {
		t.Fatalf("expected ErrDataValidation, got %v", err)
	}
	var mfe *worker.MissingFieldsError
	if !errors.As(err, &mfe) || len(mfe.Records) != 2 {
		t.Fatalf("expected two offending contacts, got %v", err)
	}
	if mfe.Records[0].Row != 2 || !reflect.DeepEqual(mfe.Records[0].Keys, []string{"tratamento"}) {
		t.Fatalf("unexpected first record %+v", mfe.Records[0])
	}
	if len(out.Results) != 0 || len(transport.sent()) != 0 {
		t.Fatalf("no recipient may be processed, got %d results and %d sends", len(out.Results), len(transport.sent()))
	}
}

func TestSendAllAllowMissingFieldsSubstitutesEmpty(t *testing.T) {
	transport := newTransportStub()
	engine := newEngine(t, &sleepRecorder{}, nil)

	contacts := []models.ContactRecord{
		{"email": "a@example.com", "tratamento": "Sra."},
		{"tratamento": "Sr.", "nome": "Sem Email"},
	}
	out, err := engine.SendAll(context.Background(), worker.SendRequest{
		Sender:          "news@example.com",
		Recipients:      contacts,
		SubjectTemplate: subjectTpl + "{{ cargo }}",
		BodyTemplate:    bodyTpl,
		Transport:       transport,
		Options:         worker.Options{AllowMissingFields: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out.Results))
	}
	sent := transport.sent()
	if len(sent) != 1 {
		t.Fatalf("expected only the contact with email to be sent, got %d", len(sent))
	}
	if sent[0].Subject != "Olá " || sent[0].HTMLBody != "<p>Sra. </p>" {
		t.Fatalf("expected empty substitution, got %q / %q", sent[0].Subject, sent[0].HTMLBody)
	}
	if out.Results[1].Success || out.Results[1].Attempts != 0 || out.Results[1].Error == "" {
		t.Fatalf("contact without email must fail without attempts, got %+v", out.Results[1])
	}
}

func TestSendAllLogsMissingDataWarnings(t *testing.T) {
	var buf bytes.Buffer
	engine, err := worker.NewEngine(worker.Config{MaxAttempts: 4}, worker.Dependencies{
		Logger: zerolog.New(&buf),
		Now:    func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) },
		Sleep:  (&sleepRecorder{}).Sleep,
	})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}

	_, err = engine.SendAll(context.Background(), worker.SendRequest{
		Sender: "news@example.com",
		Recipients: []models.ContactRecord{
			{"email": "a@example.com", "tratamento": "Sra."},
			{"tratamento": "Sr.", "nome": "Sem Email"},
		},
		SubjectTemplate: subjectTpl + "{{ cargo }}",
		BodyTemplate:    bodyTpl,
		Transport:       newTransportStub(),
		Options:         worker.Options{AllowMissingFields: true, RunID: "run-42"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var missingRows []int
	placeholderSeen := false
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var line map[string]any
		if err := dec.Decode(&line); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		if line["level"] != "warn" {
			continue
		}
		if line["run_id"] != "run-42" {
			t.Fatalf("warning without run_id: %v", line)
		}
		switch line["message"] {
		case "worker: contact missing required data, substituting empty values":
			row, _ := line["row"].(float64)
			fields, _ := line["fields"].(string)
			switch int(row) {
			case 1:
				if !strings.Contains(fields, "nome") {
					t.Fatalf("row 1 should report nome, got %q", fields)
				}
			case 2:
				if !strings.Contains(fields, "email") {
					t.Fatalf("row 2 should report email, got %q", fields)
				}
			default:
				t.Fatalf("unexpected row in %v", line)
			}
			missingRows = append(missingRows, int(row))
		case "worker: placeholder missing, substituting empty value":
			if line["row"] == float64(1) && line["template"] == "subject" && line["placeholder"] == "cargo" {
				placeholderSeen = true
			}
		}
	}
	if !reflect.DeepEqual(missingRows, []int{1, 2}) {
		t.Fatalf("expected missing-data warnings for rows 1 and 2, got %v", missingRows)
	}
	if !placeholderSeen {
		t.Fatalf("expected a placeholder warning for cargo in the subject of row 1, log:\n%s", buf.String())
	}
}

func TestSendAllUnknownPlaceholderAbortsWithPartialResults(t *testing.T) {
	transport := newTransportStub()
	engine := newEngine(t, &sleepRecorder{}, nil)

	contacts := threeContacts()
	contacts[0]["cargo"] = "Diretora"
	out, err := engine.SendAll(context.Background(), worker.SendRequest{
		Sender:          "news@example.com",
		Recipients:      contacts,
		SubjectTemplate: subjectTpl,
		BodyTemplate:    bodyTpl + "{{ cargo }}",
		Transport:       transport,
	})
	var rerr *templating.RenderError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RenderError, got %v", err)
	}
	if rerr.Template != templating.TemplateBody || rerr.Placeholder != "cargo" {
		t.Fatalf("unexpected render error %+v", rerr)
	}
	if len(out.Results) != 1 || len(transport.sent()) != 1 {
		t.Fatalf("expected exactly the first recipient processed, got %d results", len(out.Results))
	}
}

func TestSendAllCancellationStopsBetweenRecipients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := newTransportStub()
	transport.onSend = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	engine := newEngine(t, &sleepRecorder{}, nil)

	contacts := append(threeContacts(), contact("d@example.com", "Sr.", "Davi"))
	out, err := engine.SendAll(ctx, worker.SendRequest{
		Sender:          "news@example.com",
		Recipients:      contacts,
		SubjectTemplate: subjectTpl,
		BodyTemplate:    bodyTpl,
		Transport:       transport,
	})
	if err != nil {
		t.Fatalf("cancellation is not an error: %v", err)
	}
	if !out.Cancelled {
		t.Fatalf("expected cancelled outcome")
	}
	if len(out.Results) != 2 || len(transport.sent()) != 2 {
		t.Fatalf("expected 2 processed recipients, got %d results, %d sends", len(out.Results), len(transport.sent()))
	}
	if !out.Results[1].Success {
		t.Fatalf("the send in flight at cancellation must complete, got %+v", out.Results[1])
	}
}

func TestSendAllRetriesAndPreservesOrder(t *testing.T) {
	transport := newTransportStub().
		script("a@example.com", fail("451 4.3.0 temporary failure"))
	sleeper := &sleepRecorder{}
	engine := newEngine(t, sleeper, nil)

	out, err := engine.SendAll(context.Background(), worker.SendRequest{
		Sender:          "news@example.com",
		Recipients:      threeContacts()[:2],
		SubjectTemplate: subjectTpl,
		BodyTemplate:    bodyTpl,
		Transport:       transport,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out.Results))
	}
	first, second := out.Results[0], out.Results[1]
	if first.Recipient != "a@example.com" || !first.Success || first.Attempts <= 1 {
		t.Fatalf("unexpected first result %+v", first)
	}
	if second.Recipient != "b@example.com" || !second.Success || second.Attempts != 1 {
		t.Fatalf("unexpected second result %+v", second)
	}
	if first.Subject != "Olá Ana" {
		t.Fatalf("expected rendered subject on result, got %q", first.Subject)
	}
	if got := sleeper.recorded(); !reflect.DeepEqual(got, []time.Duration{time.Second}) {
		t.Fatalf("expected a single 1s backoff, got %v", got)
	}
}

func TestSendAllPausesBetweenRecipients(t *testing.T) {
	transport := newTransportStub()
	sleeper := &sleepRecorder{}
	limiter := &limiterStub{}
	engine, err := worker.NewEngine(worker.Config{}, worker.Dependencies{
		Limiter: limiter,
		Sleep:   sleeper.Sleep,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := engine.SendAll(context.Background(), worker.SendRequest{
		Sender:          "news@example.com",
		Recipients:      threeContacts(),
		SubjectTemplate: subjectTpl,
		BodyTemplate:    bodyTpl,
		Transport:       transport,
		Options:         worker.Options{Interval: 750 * time.Millisecond},
	})
	if err != nil || len(out.Results) != 3 {
		t.Fatalf("unexpected outcome %+v %v", out, err)
	}
	want := []time.Duration{750 * time.Millisecond, 750 * time.Millisecond}
	if got := sleeper.recorded(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	if limiter.calls != 3 {
		t.Fatalf("expected one limiter token per send, got %d", limiter.calls)
	}
}

func TestSendAllCancelDuringPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := worker.NewEngine(worker.Config{}, worker.Dependencies{
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := engine.SendAll(ctx, worker.SendRequest{
		Sender:          "news@example.com",
		Recipients:      threeContacts(),
		SubjectTemplate: subjectTpl,
		BodyTemplate:    bodyTpl,
		Transport:       newTransportStub(),
		Options:         worker.Options{Interval: time.Hour},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Cancelled || len(out.Results) != 1 {
		t.Fatalf("expected cancellation after first recipient, got %+v", out)
	}
}

func TestSendAllComposesEnvelopeAndPublishesStatus(t *testing.T) {
	transport := newTransportStub().script("b@example.com", fail("550 5.1.1 unknown user"))
	status := &statusCollector{}
	engine := newEngine(t, &sleepRecorder{}, status)

	out, err := engine.SendAll(context.Background(), worker.SendRequest{
		Sender:          "Equipe <news@example.com>",
		Recipients:      threeContacts()[:2],
		SubjectTemplate: subjectTpl,
		BodyTemplate:    bodyTpl,
		Transport:       transport,
		Options: worker.Options{
			CC:      []string{"cc@example.com"},
			BCC:     []string{"bcc@example.com"},
			ReplyTo: "reply@example.com",
			Rows:    []int{4, 9},
			RunID:   "run-1",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.RunID != "run-1" {
		t.Fatalf("expected run id to be kept, got %q", out.RunID)
	}

	msg := transport.sent()[0]
	if msg.From != "Equipe <news@example.com>" || msg.To != "a@example.com" || msg.ReplyTo != "reply@example.com" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !reflect.DeepEqual(msg.CC, []string{"cc@example.com"}) || !reflect.DeepEqual(msg.BCC, []string{"bcc@example.com"}) {
		t.Fatalf("unexpected copies %+v", msg)
	}
	if msg.HTMLBody != "<p>Sra. Ana</p>" || msg.MessageID == "" {
		t.Fatalf("unexpected content %+v", msg)
	}
	if out.Results[0].Row != 4 || out.Results[1].Row != 9 {
		t.Fatalf("expected source rows, got %d and %d", out.Results[0].Row, out.Results[1].Row)
	}
	if out.Results[1].Success || out.Results[1].Attempts != 1 {
		t.Fatalf("expected permanent failure, got %+v", out.Results[1])
	}

	want := []string{
		models.StatusEventPrepared, models.StatusEventAttempt, models.StatusEventSent,
		models.StatusEventPrepared, models.StatusEventAttempt, models.StatusEventFailed,
	}
	if got := status.types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for _, ev := range status.events {
		if ev.RunID != "run-1" || ev.Total != 2 || ev.Position == 0 {
			t.Fatalf("event missing run metadata: %+v", ev)
		}
	}
}
