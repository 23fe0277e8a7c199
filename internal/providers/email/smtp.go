package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/textproto"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	gomail "github.com/go-mail/mail"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/example/emaileria/internal/config"
	"github.com/example/emaileria/internal/models"
)

var smtpReplyPattern = regexp.MustCompile(`^(\d{3})[ -](.*)$`)

// SessionDialer opens an authenticated SMTP session. *gomail.Dialer
// satisfies it.
type SessionDialer interface {
	Dial() (gomail.SendCloser, error)
}

// SMTPOption configures the behaviour of the SMTP transport.
type SMTPOption func(*SMTPTransport)

// WithSMTPDialer swaps the dialer used to establish SMTP sessions.
func WithSMTPDialer(d SessionDialer) SMTPOption {
	return func(t *SMTPTransport) {
		if d != nil {
			t.dialer = d
		}
	}
}

// WithSMTPClock replaces the clock used for Date headers and timestamps.
func WithSMTPClock(now func() time.Time) SMTPOption {
	return func(t *SMTPTransport) {
		if now != nil {
			t.now = now
		}
	}
}

// WithSMTPTLSConfig overrides the TLS configuration used for SSL and STARTTLS.
func WithSMTPTLSConfig(cfg *tls.Config) SMTPOption {
	return func(t *SMTPTransport) {
		if d, ok := t.dialer.(*gomail.Dialer); ok {
			d.TLSConfig = cfg
		}
	}
}

// SMTPTransport delivers messages over a single SMTP session that is opened
// on the first send and reused until it breaks or the transport is closed.
type SMTPTransport struct {
	logger zerolog.Logger
	dialer SessionDialer
	host   string
	now    func() time.Time

	mu      sync.Mutex
	session gomail.SendCloser
}

// NewSMTPTransport constructs a transport backed by an SMTP server.
func NewSMTPTransport(cfg config.SMTPConfig, logger zerolog.Logger, opts ...SMTPOption) (*SMTPTransport, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp transport: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp transport: invalid port %d", cfg.Port)
	}

	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	if cfg.TimeoutSeconds > 0 {
		d.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	switch strings.ToLower(cfg.TLSMode) {
	case config.TLSModeSSL:
		d.SSL = true
	case config.TLSModeNone:
		d.StartTLSPolicy = gomail.NoStartTLS
	default:
		d.StartTLSPolicy = gomail.MandatoryStartTLS
	}

	t := &SMTPTransport{
		logger: logger.With().Str("component", "smtp_transport").Logger(),
		dialer: d,
		host:   cfg.Host,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Send delivers msg. SMTP rejections are returned as failed results carrying
// "<code> <text>"; dial and connection faults are returned as errors after the
// session is dropped so the next call redials.
func (t *SMTPTransport) Send(ctx context.Context, msg *models.ComposedMessage) (*models.DeliveryResult, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from, err := envelopeAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("smtp transport: invalid from address: %w", err)
	}
	rcpts := lo.Uniq(lo.Compact(msg.Recipients()))
	if len(rcpts) == 0 {
		return nil, errors.New("smtp transport: at least one recipient is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	session, err := t.sessionLocked()
	if err != nil {
		if code, text, ok := smtpReply(err); ok {
			return rejected(msg, fmt.Sprintf("%d %s", code, text)), nil
		}
		return nil, fmt.Errorf("smtp transport: dial %s: %w", t.host, err)
	}

	if err := session.Send(from, rcpts, t.buildMessage(msg)); err != nil {
		// A failed transaction leaves the session in an unknown state.
		t.resetLocked()
		if code, text, ok := smtpReply(err); ok {
			t.logger.Debug().Int("code", code).Str("message_id", msg.MessageID).Msg("smtp rejected message")
			return rejected(msg, fmt.Sprintf("%d %s", code, text)), nil
		}
		return nil, fmt.Errorf("smtp transport: send: %w", err)
	}

	res := accepted(msg, "")
	res.Timestamp = t.now()
	return res, nil
}

// Close ends the SMTP session if one is open.
func (t *SMTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return nil
	}
	err := t.session.Close()
	t.session = nil
	return err
}

func (t *SMTPTransport) sessionLocked() (gomail.SendCloser, error) {
	if t.session != nil {
		return t.session, nil
	}
	s, err := t.dialer.Dial()
	if err != nil {
		return nil, err
	}
	t.logger.Debug().Str("host", t.host).Msg("smtp session opened")
	t.session = s
	return s, nil
}

func (t *SMTPTransport) resetLocked() {
	if t.session == nil {
		return
	}
	_ = t.session.Close()
	t.session = nil
}

func (t *SMTPTransport) buildMessage(msg *models.ComposedMessage) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	if len(msg.CC) > 0 {
		m.SetHeader("Cc", msg.CC...)
	}
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	if msg.MessageID != "" {
		m.SetHeader("Message-ID", "<"+msg.MessageID+">")
	}
	m.SetDateHeader("Date", t.now())
	m.SetBody("text/html", msg.HTMLBody)
	return m
}

func envelopeAddress(value string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(value))
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}

// smtpReply extracts the reply code and text from an SMTP protocol error.
func smtpReply(err error) (int, string, bool) {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code, tpErr.Msg, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return 0, "", false
	}
	matches := smtpReplyPattern.FindStringSubmatch(strings.TrimSpace(err.Error()))
	if len(matches) != 3 {
		return 0, "", false
	}
	code, convErr := strconv.Atoi(matches[1])
	if convErr != nil {
		return 0, "", false
	}
	return code, matches[2], true
}
