package worker

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration is returned before any recipient is processed when
	// the run parameters cannot work, such as a missing transport.
	ErrConfiguration = errors.New("worker: invalid configuration")
	// ErrDataValidation is matched by errors caused by the contact data.
	ErrDataValidation = errors.New("worker: invalid contact data")
)

// MissingField identifies a contact lacking required columns.
type MissingField struct {
	Position int
	Row      int
	Keys     []string
}

// MissingFieldsError lists every contact that lacks a required column. It is
// returned before the first send so no recipient receives a partial run.
type MissingFieldsError struct {
	Records []MissingField
}

func (e *MissingFieldsError) Error() string {
	parts := make([]string, 0, len(e.Records))
	for _, rec := range e.Records {
		parts = append(parts, fmt.Sprintf("row %d: %s", rec.Row, strings.Join(rec.Keys, ", ")))
	}
	return fmt.Sprintf("worker: %d contact(s) missing required data (%s)", len(e.Records), strings.Join(parts, "; "))
}

func (e *MissingFieldsError) Unwrap() error { return ErrDataValidation }
