package models

import "time"

// Status event constants.
const (
	StatusEventPrepared = "prepared"
	StatusEventAttempt  = "attempt"
	StatusEventRetry    = "retry"
	StatusEventSent     = "sent"
	StatusEventFailed   = "failed"
	StatusEventSkipped  = "skipped"
)

// StatusEvent represents lifecycle events emitted for outbound messages.
type StatusEvent struct {
	RunID     string        `json:"run_id,omitempty"`
	MessageID string        `json:"message_id,omitempty"`
	Recipient string        `json:"recipient"`
	EventType string        `json:"event_type"`
	Position  int           `json:"position"`
	Total     int           `json:"total"`
	Attempt   int           `json:"attempt,omitempty"`
	Backoff   time.Duration `json:"backoff,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
	DryRun    bool          `json:"dry_run,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
