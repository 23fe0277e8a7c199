package worker

import (
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/example/emaileria/internal/models"
)

const fallbackMessageDomain = "emaileria.local"

// Envelope carries the addressing shared by every message of a run.
type Envelope struct {
	Sender  string
	CC      []string
	BCC     []string
	ReplyTo string
}

// Compose builds the message for one recipient.
func Compose(env Envelope, to, subject, htmlBody string) *models.ComposedMessage {
	return &models.ComposedMessage{
		MessageID: NewMessageID(env.Sender),
		From:      env.Sender,
		To:        to,
		CC:        append([]string(nil), env.CC...),
		BCC:       append([]string(nil), env.BCC...),
		ReplyTo:   env.ReplyTo,
		Subject:   subject,
		HTMLBody:  htmlBody,
	}
}

// NewMessageID returns a unique Message-ID local@domain, using the sender's
// domain when it can be parsed.
func NewMessageID(sender string) string {
	domain := fallbackMessageDomain
	if addr, err := mail.ParseAddress(sender); err == nil {
		if at := strings.LastIndex(addr.Address, "@"); at >= 0 && at < len(addr.Address)-1 {
			domain = addr.Address[at+1:]
		}
	}
	return uuid.NewString() + "@" + domain
}
