package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/example/emaileria/internal/models"
)

// CSVTimeLayout formats the timestamp column.
const CSVTimeLayout = "2006-01-02T15:04:05"

var csvHeader = []string{"timestamp", "email", "assunto", "status", "tentativas", "erro"}

// CSVLog appends one line per delivery result to a CSV file. Existing lines
// are never rewritten and the header is written only when the file is new.
type CSVLog struct {
	mu   sync.Mutex
	path string
}

// NewCSVLog returns a log writing to path. The file is created on first use.
func NewCSVLog(path string) *CSVLog {
	return &CSVLog{path: path}
}

// Path returns the log location.
func (l *CSVLog) Path() string { return l.path }

// Append writes results in order.
func (l *CSVLog) Append(ctx context.Context, _ string, results []models.DeliveryResult) error {
	if l == nil {
		return errClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report: create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("report: open csv log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("report: stat csv log: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("report: write csv header: %w", err)
		}
	}
	for _, r := range results {
		row := []string{
			r.Timestamp.Local().Format(CSVTimeLayout),
			r.Recipient,
			r.Subject,
			r.Status(),
			strconv.Itoa(r.Attempts),
			r.Error,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("report: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: flush csv log: %w", err)
	}
	return nil
}
