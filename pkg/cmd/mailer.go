package cmd

import (
	"log/slog"

	"github.com/gestium/flowmail/pkg/mailer"
)

// NewMailer creates the SMTP transport the delivery workers send
// through.
func NewMailer(cfg mailer.SMTPConfig, logger *slog.Logger) mailer.Transport {
	return mailer.NewSMTPTransport(cfg, logger)
}
