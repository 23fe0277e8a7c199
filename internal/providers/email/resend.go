package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"

	"github.com/example/emaileria/internal/config"
	"github.com/example/emaileria/internal/models"
)

// ResendOption configures the Resend transport.
type ResendOption func(*ResendTransport)

// WithResendBaseURL points the client at another API endpoint.
func WithResendBaseURL(raw string) ResendOption {
	return func(t *ResendTransport) {
		if raw == "" {
			return
		}
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		if u, err := url.Parse(raw); err == nil {
			t.client.BaseURL = u
		}
	}
}

// WithResendClock replaces the clock used for timestamps.
func WithResendClock(now func() time.Time) ResendOption {
	return func(t *ResendTransport) {
		if now != nil {
			t.now = now
		}
	}
}

// ResendTransport delivers messages through the Resend HTTP API.
type ResendTransport struct {
	logger zerolog.Logger
	client *resend.Client
	now    func() time.Time
}

// NewResendTransport constructs a transport for the Resend API.
func NewResendTransport(cfg config.ResendConfig, logger zerolog.Logger, opts ...ResendOption) (*ResendTransport, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("resend transport: api key is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	t := &ResendTransport{
		logger: logger.With().Str("component", "resend_transport").Logger(),
		client: resend.NewClient(cfg.APIKey),
		now:    time.Now,
	}
	WithResendBaseURL(cfg.BaseURL)(t)
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Send submits msg to the API. Responses rejected by the API become failed
// results; throttling responses are marked with a "4xx" prefix so they are
// retried. Network faults are returned as errors.
func (t *ResendTransport) Send(ctx context.Context, msg *models.ComposedMessage) (*models.DeliveryResult, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}

	params := &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Cc:      msg.CC,
		Bcc:     msg.BCC,
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		Html:    msg.HTMLBody,
	}
	if msg.MessageID != "" {
		params.Headers = map[string]string{"X-Entity-Ref-ID": msg.MessageID}
	}

	sent, err := t.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		if isNetworkFault(err) {
			return nil, fmt.Errorf("resend transport: %w", err)
		}
		reason := err.Error()
		if isThrottled(reason) {
			reason = "4xx " + reason
		}
		t.logger.Debug().Str("message_id", msg.MessageID).Str("reason", reason).Msg("resend rejected message")
		res := rejected(msg, reason)
		res.Timestamp = t.now()
		return res, nil
	}

	res := accepted(msg, sent.Id)
	res.Timestamp = t.now()
	return res, nil
}

// Close is a no-op; the HTTP client holds no per-run session.
func (t *ResendTransport) Close() error { return nil }

func isNetworkFault(err error) bool {
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "dial tcp") || strings.Contains(lower, "connection refused")
}

func isThrottled(reason string) bool {
	lower := strings.ToLower(reason)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "429")
}
