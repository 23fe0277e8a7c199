package models

import "time"

// DeliveryResult records the outcome of one recipient's delivery.
type DeliveryResult struct {
	Recipient string    `json:"recipient"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts"`
	Subject   string    `json:"subject,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Row       int       `json:"row,omitempty"`
	DryRun    bool      `json:"dry_run,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Status returns the label used by the persisted delivery log.
func (r DeliveryResult) Status() string {
	switch {
	case r.DryRun:
		return "dry_run"
	case r.Success:
		return "sucesso"
	default:
		return "erro"
	}
}
