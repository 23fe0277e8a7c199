package worker_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/emaileria/internal/models"
)

type callResult struct {
	res   *models.DeliveryResult
	err   error
	panic any
}

// transportStub replays scripted outcomes per recipient; unscripted calls
// succeed.
type transportStub struct {
	mu      sync.Mutex
	scripts map[string][]callResult
	calls   []*models.ComposedMessage
	onSend  func(n int)
	closed  bool
}

func newTransportStub() *transportStub {
	return &transportStub{scripts: make(map[string][]callResult)}
}

func (s *transportStub) script(recipient string, results ...callResult) *transportStub {
	s.scripts[recipient] = append(s.scripts[recipient], results...)
	return s
}

func (s *transportStub) Send(_ context.Context, msg *models.ComposedMessage) (*models.DeliveryResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, msg)
	n := len(s.calls)
	var next *callResult
	if q := s.scripts[msg.To]; len(q) > 0 {
		next = &q[0]
		s.scripts[msg.To] = q[1:]
	}
	onSend := s.onSend
	s.mu.Unlock()

	if onSend != nil {
		onSend(n)
	}
	if next == nil {
		return &models.DeliveryResult{Recipient: msg.To, Success: true}, nil
	}
	if next.panic != nil {
		panic(next.panic)
	}
	return next.res, next.err
}

func (s *transportStub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *transportStub) sent() []*models.ComposedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.ComposedMessage(nil), s.calls...)
}

func fail(reason string) callResult {
	return callResult{res: &models.DeliveryResult{Success: false, Error: reason}}
}

func transportErr(msg string) callResult {
	return callResult{err: errors.New(msg)}
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.sleeps...)
}

type statusCollector struct {
	mu     sync.Mutex
	events []models.StatusEvent
}

func (s *statusCollector) PublishStatus(_ context.Context, event models.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *statusCollector) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type limiterStub struct {
	mu    sync.Mutex
	calls int
}

func (l *limiterStub) Acquire(context.Context, float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return nil
}

func contact(email, tratamento, nome string) models.ContactRecord {
	return models.ContactRecord{"email": email, "tratamento": tratamento, "nome": nome}
}
