package email

import (
	"context"
	"errors"

	"github.com/example/emaileria/internal/models"
)

// ErrNilMessage is returned when a transport receives no message.
var ErrNilMessage = errors.New("email: message is required")

// Transport delivers composed messages. Rejections reported by the remote
// side are encoded in the returned result; errors are reserved for faults
// that prevented the exchange, such as a dropped connection.
//
// A transport is opened once per run, reused for every recipient and closed
// by the caller when the run ends.
type Transport interface {
	Send(ctx context.Context, msg *models.ComposedMessage) (*models.DeliveryResult, error)
	Close() error
}

func rejected(msg *models.ComposedMessage, reason string) *models.DeliveryResult {
	return &models.DeliveryResult{
		Recipient: msg.To,
		Success:   false,
		Error:     reason,
		MessageID: msg.MessageID,
		Subject:   msg.Subject,
	}
}

func accepted(msg *models.ComposedMessage, providerID string) *models.DeliveryResult {
	id := providerID
	if id == "" {
		id = msg.MessageID
	}
	return &models.DeliveryResult{
		Recipient: msg.To,
		Success:   true,
		MessageID: id,
		Subject:   msg.Subject,
	}
}
