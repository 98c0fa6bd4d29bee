// Package mailer delivers rendered notifications over SMTP.
package mailer

import (
	"context"

	"github.com/gestium/flowmail/pkg/models"
)

// Message is one outbound email, already rendered. The worker composes
// it from a claimed notification job.
type Message struct {
	To          []string
	Cc          []string
	Subject     string
	Body        string
	Attachments []models.Attachment
}

// Transport sends a composed message. Implementations must treat a nil
// error as an accepted hand-off to the mail system, not as proof of
// final delivery.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
}
