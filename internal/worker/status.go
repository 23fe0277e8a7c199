package worker

import (
	"context"
	"errors"

	"github.com/example/emaileria/internal/models"
)

// StatusPublisher receives lifecycle events (prepared, attempt, retry, sent,
// failed, skipped) for every recipient of a run.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event models.StatusEvent) error
}

// StatusPublisherFunc adapts a function to StatusPublisher.
type StatusPublisherFunc func(ctx context.Context, event models.StatusEvent) error

// PublishStatus calls f.
func (f StatusPublisherFunc) PublishStatus(ctx context.Context, event models.StatusEvent) error {
	return f(ctx, event)
}

// MultiPublisher fans an event out to several publishers. Every publisher is
// called even when an earlier one fails.
type MultiPublisher []StatusPublisher

// PublishStatus forwards event to each publisher and joins their errors.
func (m MultiPublisher) PublishStatus(ctx context.Context, event models.StatusEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishStatus(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
