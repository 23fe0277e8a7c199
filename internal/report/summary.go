package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/example/emaileria/internal/models"
)

// Failure describes one recipient that was not delivered.
type Failure struct {
	Recipient string
	Row       int
	Reason    string
}

// Summary aggregates a run's results. It never holds message bodies.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	DryRun    int
	Attempts  int
	Failures  []Failure
}

// Summarize counts results and collects failure reasons.
func Summarize(results []models.DeliveryResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		s.Attempts += r.Attempts
		switch {
		case r.DryRun:
			s.DryRun++
			s.Succeeded++
		case r.Success:
			s.Succeeded++
		default:
			s.Failed++
			s.Failures = append(s.Failures, Failure{Recipient: r.Recipient, Row: r.Row, Reason: r.Error})
		}
	}
	return s
}

// Reasons groups failures by error text.
func (s Summary) Reasons() map[string]int {
	out := make(map[string]int, len(s.Failures))
	for _, f := range s.Failures {
		out[f.Reason]++
	}
	return out
}

// Write prints a human-readable summary.
func (s Summary) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "total=%d sucesso=%d falha=%d\n", s.Total, s.Succeeded, s.Failed); err != nil {
		return err
	}
	if len(s.Failures) == 0 {
		return nil
	}
	failures := append([]Failure(nil), s.Failures...)
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Row < failures[j].Row })
	for _, f := range failures {
		if _, err := fmt.Fprintf(w, "  linha %d %s: %s\n", f.Row, f.Recipient, f.Reason); err != nil {
			return err
		}
	}
	return nil
}
