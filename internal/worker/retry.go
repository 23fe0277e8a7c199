package worker

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/emaileria/internal/models"
	emailprovider "github.com/example/emaileria/internal/providers/email"
)

// Defaults for RetryPolicy.
const DefaultMaxAttempts = 4

// DefaultBackoff is indexed by the number of the attempt that just failed;
// attempts past the end reuse the last entry.
var DefaultBackoff = []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second}

// Limiter bounds the send rate. *ratelimit.TokenBucket satisfies it.
type Limiter interface {
	Acquire(ctx context.Context, tokens float64) error
}

// RetryPolicy sends one message with rate limiting and bounded retries.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
	Limiter     Limiter
	Sleep       func(ctx context.Context, d time.Duration) error
	Now         func() time.Time
	Logger      zerolog.Logger

	// Notify, when set, receives attempt and retry events.
	Notify func(event models.StatusEvent)
}

// Send delivers msg through transport. Transport errors and panics never
// escape: they become failed results. A failure is retried only when it is
// classified as temporary and attempts remain.
func (p RetryPolicy) Send(ctx context.Context, transport emailprovider.Transport, msg *models.ComposedMessage) models.DeliveryResult {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	logger := p.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	for attempt := 1; ; attempt++ {
		if p.Limiter != nil {
			if err := p.Limiter.Acquire(ctx, 1); err != nil {
				res := p.failure(msg, fmt.Sprintf("rate limiter: %v", err))
				res.Attempts = attempt - 1
				return res
			}
		}

		p.notify(models.StatusEvent{EventType: models.StatusEventAttempt, MessageID: msg.MessageID, Recipient: msg.To, Attempt: attempt})
		start := p.now()
		res := p.attempt(ctx, transport, msg)
		res.Attempts = attempt
		duration := p.now().Sub(start)

		if res.Success {
			return res
		}

		logEvent := logger.With().
			Str("recipient", msg.To).
			Str("message_id", msg.MessageID).
			Int("attempt", attempt).
			Dur("duration", duration).
			Logger()

		if attempt >= maxAttempts {
			logEvent.Warn().Str("error", res.Error).Msg("worker: retry budget exhausted")
			return res
		}
		if !IsTemporary(res.Error) {
			logEvent.Warn().Str("error", res.Error).Msg("worker: permanent failure, not retrying")
			return res
		}

		backoff := p.backoffFor(attempt)
		logEvent.Info().Dur("backoff", backoff).Str("error", res.Error).Msg("worker: scheduling retry after transient error")
		p.notify(models.StatusEvent{
			EventType: models.StatusEventRetry,
			MessageID: msg.MessageID,
			Recipient: msg.To,
			Attempt:   attempt,
			Backoff:   backoff,
			Error:     res.Error,
		})

		if backoff > 0 {
			if err := p.sleep(ctx, backoff); err != nil {
				return res
			}
		}
	}
}

func (p RetryPolicy) attempt(ctx context.Context, transport emailprovider.Transport, msg *models.ComposedMessage) (res models.DeliveryResult) {
	defer func() {
		if r := recover(); r != nil {
			res = p.failure(msg, fmt.Sprintf("transport panic: %v", r))
		}
	}()

	out, err := transport.Send(ctx, msg)
	if err != nil {
		return p.failure(msg, err.Error())
	}
	if out == nil {
		return p.failure(msg, "transport returned no result")
	}

	res = *out
	if res.Recipient == "" {
		res.Recipient = msg.To
	}
	if res.MessageID == "" {
		res.MessageID = msg.MessageID
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = p.now()
	}
	if !res.Success && res.Error == "" {
		res.Error = "unknown transport failure"
	}
	return res
}

func (p RetryPolicy) failure(msg *models.ComposedMessage, reason string) models.DeliveryResult {
	return models.DeliveryResult{
		Recipient: msg.To,
		Success:   false,
		Error:     reason,
		MessageID: msg.MessageID,
		Subject:   msg.Subject,
		Timestamp: p.now(),
	}
}

func (p RetryPolicy) backoffFor(attempt int) time.Duration {
	schedule := p.Backoff
	if schedule == nil {
		schedule = DefaultBackoff
	}
	if len(schedule) == 0 {
		return 0
	}
	if attempt < len(schedule) {
		return schedule[attempt]
	}
	return schedule[len(schedule)-1]
}

func (p RetryPolicy) notify(event models.StatusEvent) {
	if p.Notify == nil {
		return
	}
	event.Timestamp = p.now()
	p.Notify(event)
}

func (p RetryPolicy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return wait(ctx, d)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
