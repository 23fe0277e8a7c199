package metrics_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/emaileria/internal/metrics"
	"github.com/example/emaileria/internal/models"
)

func publish(t *testing.T, r *metrics.Recorder, events ...models.StatusEvent) {
	t.Helper()
	for _, ev := range events {
		if err := r.PublishStatus(context.Background(), ev); err != nil {
			t.Fatalf("publish %s: %v", ev.EventType, err)
		}
	}
}

func TestRecorderCountsLifecycle(t *testing.T) {
	r := metrics.NewRecorder()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	publish(t, r,
		models.StatusEvent{EventType: models.StatusEventPrepared, Timestamp: now},
		models.StatusEvent{EventType: models.StatusEventAttempt, Attempt: 1},
		models.StatusEvent{EventType: models.StatusEventRetry, Attempt: 1, Backoff: time.Second},
		models.StatusEvent{EventType: models.StatusEventAttempt, Attempt: 2},
		models.StatusEvent{EventType: models.StatusEventSent, Duration: 1500 * time.Millisecond},
		models.StatusEvent{EventType: models.StatusEventSkipped},
		models.StatusEvent{EventType: models.StatusEventAttempt, Attempt: 1},
		models.StatusEvent{EventType: models.StatusEventFailed, Duration: 200 * time.Millisecond},
	)

	want := `
# HELP emaileria_deliveries_total Final delivery outcomes by result.
# TYPE emaileria_deliveries_total counter
emaileria_deliveries_total{result="failed"} 1
emaileria_deliveries_total{result="sent"} 1
emaileria_deliveries_total{result="skipped"} 1
`
	if err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(want), "emaileria_deliveries_total"); err != nil {
		t.Fatalf("deliveries mismatch: %v", err)
	}

	attempts := `
# HELP emaileria_send_attempts_total Transport send attempts.
# TYPE emaileria_send_attempts_total counter
emaileria_send_attempts_total 3
`
	if err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(attempts), "emaileria_send_attempts_total"); err != nil {
		t.Fatalf("attempts mismatch: %v", err)
	}

	backoff := `
# HELP emaileria_retry_backoff_seconds_total Time spent waiting between retries.
# TYPE emaileria_retry_backoff_seconds_total counter
emaileria_retry_backoff_seconds_total 1
`
	if err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(backoff), "emaileria_retry_backoff_seconds_total"); err != nil {
		t.Fatalf("backoff mismatch: %v", err)
	}

	if got := testutil.CollectAndCount(r.Registry(), "emaileria_delivery_duration_seconds"); got != 1 {
		t.Fatalf("expected one histogram series, got %d", got)
	}
}

func TestRecorderDryRun(t *testing.T) {
	r := metrics.NewRecorder()
	publish(t, r,
		models.StatusEvent{EventType: models.StatusEventPrepared, DryRun: true},
		models.StatusEvent{EventType: models.StatusEventPrepared, DryRun: true},
	)

	want := `
# HELP emaileria_deliveries_total Final delivery outcomes by result.
# TYPE emaileria_deliveries_total counter
emaileria_deliveries_total{result="dry_run"} 2
`
	if err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(want), "emaileria_deliveries_total"); err != nil {
		t.Fatalf("dry-run mismatch: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := metrics.NewRecorder()
	publish(t, r, models.StatusEvent{EventType: models.StatusEventSent, Duration: time.Second})

	path := filepath.Join(t.TempDir(), "textfile", "emaileria.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), `emaileria_deliveries_total{result="sent"} 1`) {
		t.Fatalf("textfile missing counter:\n%s", raw)
	}
}
