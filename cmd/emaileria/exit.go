package main

import (
	"context"
	"errors"

	"github.com/example/emaileria/internal/worker"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitCancelled = 130
)

var (
	errDeliveryFailed = errors.New("one or more messages were not delivered")
	errCancelled      = errors.New("run cancelled by the user")
)

// usageError marks invalid flags, configuration or run parameters.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usage(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

func exitCode(err error) int {
	var ue *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errCancelled), errors.Is(err, context.Canceled):
		return exitCancelled
	case errors.As(err, &ue), errors.Is(err, worker.ErrConfiguration):
		return exitUsage
	default:
		return exitFailure
	}
}
