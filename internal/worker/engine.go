package worker

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/emaileria/internal/models"
	emailprovider "github.com/example/emaileria/internal/providers/email"
	"github.com/example/emaileria/internal/templating"
)

// Config contains the retry settings the engine applies to every send.
type Config struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// Dependencies collects the runtime collaborators required by the engine.
// Everything is optional: a nil limiter disables rate limiting and a nil
// publisher drops status events.
type Dependencies struct {
	Limiter         Limiter
	StatusPublisher StatusPublisher
	Logger          zerolog.Logger
	Now             func() time.Time
	Sleep           func(ctx context.Context, d time.Duration) error
}

// Options tune a single run.
type Options struct {
	AllowMissingFields bool
	Markdown           bool
	Interval           time.Duration
	CC                 []string
	BCC                []string
	ReplyTo            string
	// Rows holds the source row of each recipient. When empty, rows are
	// numbered from 1 in send order.
	Rows []int
	// RunID tags status events; one is generated when empty.
	RunID string
}

// SendRequest describes one run over a list of contacts.
type SendRequest struct {
	Sender          string
	Recipients      []models.ContactRecord
	SubjectTemplate string
	BodyTemplate    string
	Transport       emailprovider.Transport
	DryRun          bool
	Options         Options
}

// Outcome is the result of a run. Results follow the input order and hold
// one entry per processed recipient.
type Outcome struct {
	RunID     string
	Results   []models.DeliveryResult
	Cancelled bool
}

// Engine renders and sends a personalised message to each contact, one at a
// time, applying the rate limiter and retry policy to every delivery.
type Engine struct {
	cfg       Config
	limiter   Limiter
	publisher StatusPublisher
	logger    zerolog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewEngine constructs a send engine. The configuration is validated to
// prevent misconfiguration at startup.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("worker: max attempts must be >= 1")
	}
	for _, d := range cfg.Backoff {
		if d < 0 {
			return nil, errors.New("worker: backoff durations cannot be negative")
		}
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "send_engine").Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	sleepFunc := deps.Sleep
	if sleepFunc == nil {
		sleepFunc = wait
	}

	return &Engine{
		cfg:       cfg,
		limiter:   deps.Limiter,
		publisher: deps.StatusPublisher,
		logger:    logger,
		now:       nowFunc,
		sleep:     sleepFunc,
	}, nil
}

// SendAll processes every recipient in order. Cancelling ctx stops the run
// before the next recipient; a send already in flight, including its retries,
// is allowed to finish. The partial results are returned with Cancelled set.
//
// A missing transport outside dry-run mode fails with ErrConfiguration.
// Contacts lacking required columns fail the whole run with a
// *MissingFieldsError unless missing fields are allowed. An unknown
// placeholder aborts the run with a *templating.RenderError and the results
// gathered so far.
func (e *Engine) SendAll(ctx context.Context, req SendRequest) (Outcome, error) {
	out := Outcome{RunID: req.Options.RunID}
	if out.RunID == "" {
		out.RunID = uuid.NewString()
	}

	if req.Transport == nil && !req.DryRun {
		return out, fmt.Errorf("%w: a transport is required unless running dry", ErrConfiguration)
	}
	if len(req.Recipients) == 0 {
		return out, nil
	}
	logger := e.logger.With().Str("run_id", out.RunID).Logger()
	if err := e.checkRequired(req, logger); err != nil {
		return out, err
	}

	total := len(req.Recipients)
	var current RowInfo
	renderer := templating.NewRenderer(templating.Options{
		AllowMissing: req.Options.AllowMissingFields,
		Markdown:     req.Options.Markdown,
		OnMissing: func(template, placeholder string) {
			logger.Warn().
				Int("row", current.Row).
				Str("template", template).
				Str("placeholder", placeholder).
				Msg("worker: placeholder missing, substituting empty value")
		},
	})
	envelope := Envelope{
		Sender:  req.Sender,
		CC:      req.Options.CC,
		BCC:     req.Options.BCC,
		ReplyTo: req.Options.ReplyTo,
	}
	// In-flight sends are not interrupted by cancellation.
	sendCtx := context.WithoutCancel(ctx)

	out.Results = make([]models.DeliveryResult, 0, total)
	for i, rec := range req.Recipients {
		if ctx.Err() != nil {
			out.Cancelled = true
			logger.Warn().
				Int("processed", len(out.Results)).
				Int("total", total).
				Msg("worker: run cancelled, no further recipients will be processed")
			return out, nil
		}

		info := RowInfo{Row: rowFor(req.Options.Rows, i), Position: i + 1}
		values := BuildContext(rec, info, e.now())
		recipient := values[models.KeyEmail]
		event := models.StatusEvent{RunID: out.RunID, Recipient: recipient, Position: info.Position, Total: total, DryRun: req.DryRun}

		current = info
		subject, body, err := renderer.Render(req.SubjectTemplate, req.BodyTemplate, values)
		if err != nil {
			logger.Error().Int("row", info.Row).Str("recipient", recipient).Err(err).Msg("worker: template rendering failed, aborting run")
			return out, fmt.Errorf("worker: row %d: %w", info.Row, err)
		}

		if req.DryRun || req.Transport == nil {
			res := models.DeliveryResult{
				Recipient: recipient,
				Success:   true,
				Attempts:  0,
				Subject:   subject,
				Row:       info.Row,
				DryRun:    true,
				Timestamp: e.now(),
			}
			out.Results = append(out.Results, res)
			event.EventType = models.StatusEventPrepared
			e.publish(ctx, event)
			logger.Debug().Int("position", info.Position).Int("total", total).Str("recipient", recipient).Msg("worker: dry run, message prepared")
			continue
		}

		if recipient == "" {
			res := models.DeliveryResult{
				Success:   false,
				Error:     "recipient email is empty",
				Subject:   subject,
				Row:       info.Row,
				Timestamp: e.now(),
			}
			out.Results = append(out.Results, res)
			event.EventType = models.StatusEventSkipped
			event.Error = res.Error
			e.publish(ctx, event)
			logger.Warn().Int("row", info.Row).Msg("worker: recipient without email skipped")
			continue
		}

		msg := Compose(envelope, recipient, subject, body)
		event.MessageID = msg.MessageID
		event.EventType = models.StatusEventPrepared
		e.publish(ctx, event)

		policy := e.policy(logger, func(ev models.StatusEvent) {
			ev.RunID, ev.Position, ev.Total = out.RunID, info.Position, total
			e.publish(ctx, ev)
		})
		start := e.now()
		res := policy.Send(sendCtx, req.Transport, msg)
		res.Subject = subject
		res.Row = info.Row
		out.Results = append(out.Results, res)

		event.Attempt = res.Attempts
		event.Duration = e.now().Sub(start)
		if res.Success {
			event.EventType = models.StatusEventSent
			logger.Info().
				Int("position", info.Position).
				Int("total", total).
				Str("recipient", recipient).
				Int("attempts", res.Attempts).
				Msg("worker: message sent")
		} else {
			event.EventType = models.StatusEventFailed
			event.Error = res.Error
			logger.Error().
				Int("position", info.Position).
				Int("total", total).
				Str("recipient", recipient).
				Int("attempts", res.Attempts).
				Str("error", res.Error).
				Msg("worker: message failed")
		}
		e.publish(ctx, event)

		if req.Options.Interval > 0 && i < total-1 && ctx.Err() == nil {
			// An interrupted pause is picked up by the check at the top.
			_ = e.sleep(ctx, req.Options.Interval)
		}
	}

	return out, nil
}

func (e *Engine) policy(logger zerolog.Logger, notify func(models.StatusEvent)) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: e.cfg.MaxAttempts,
		Backoff:     e.cfg.Backoff,
		Limiter:     e.limiter,
		Sleep:       e.sleep,
		Now:         e.now,
		Logger:      logger,
		Notify:      notify,
	}
}

func (e *Engine) checkRequired(req SendRequest, logger zerolog.Logger) error {
	var missing []MissingField
	for i, rec := range req.Recipients {
		keys := rec.MissingRequired()
		if len(keys) == 0 {
			continue
		}
		missing = append(missing, MissingField{Position: i + 1, Row: rowFor(req.Options.Rows, i), Keys: keys})
	}
	if len(missing) == 0 {
		return nil
	}
	if !req.Options.AllowMissingFields {
		return &MissingFieldsError{Records: missing}
	}
	for _, m := range missing {
		logger.Warn().
			Int("row", m.Row).
			Str("fields", strings.Join(m.Keys, ",")).
			Msg("worker: contact missing required data, substituting empty values")
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, event models.StatusEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishStatus(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Error().
			Str("recipient", event.Recipient).
			Str("event", event.EventType).
			Err(err).
			Msg("worker: failed to publish status event")
	}
}

func rowFor(rows []int, i int) int {
	if i < len(rows) && rows[i] > 0 {
		return rows[i]
	}
	return i + 1
}
