// Package report persists delivery results and summarizes a run.
package report

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/example/emaileria/internal/models"
)

// Sink stores the results of one run.
type Sink interface {
	Append(ctx context.Context, runID string, results []models.DeliveryResult) error
}

// Fanout appends results to every sink concurrently and returns the first
// failure. A failing sink does not stop the others.
func Fanout(ctx context.Context, runID string, results []models.DeliveryResult, sinks ...Sink) error {
	if len(results) == 0 {
		return nil
	}
	var g errgroup.Group
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		sink := sink
		g.Go(func() error {
			return sink.Append(ctx, runID, results)
		})
	}
	return g.Wait()
}

var errClosed = errors.New("report: sink closed")
