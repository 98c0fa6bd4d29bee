package mailer

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/gestium/flowmail/pkg/log"
)

// SMTPConfig holds SMTP connection parameters.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool
}

// SMTPTransport sends messages through a single SMTP endpoint.
type SMTPTransport struct {
	config SMTPConfig
	logger *slog.Logger
}

// NewSMTPTransport creates an SMTP transport.
func NewSMTPTransport(cfg SMTPConfig, logger *slog.Logger) *SMTPTransport {
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	return &SMTPTransport{config: cfg, logger: log.WithModule(logger, "mailer")}
}

func (t *SMTPTransport) Send(ctx context.Context, msg *Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("message has no recipients")
	}

	// Envelope recipients cover both header fields.
	recipients := make([]string, 0, len(msg.To)+len(msg.Cc))
	recipients = append(recipients, msg.To...)
	recipients = append(recipients, msg.Cc...)

	body := composeMessage(t.config.From, msg)

	addr := net.JoinHostPort(t.config.Host, strconv.Itoa(t.config.Port))

	var auth smtp.Auth
	if t.config.Username != "" && t.config.Password != "" {
		auth = smtp.PlainAuth("", t.config.Username, t.config.Password, t.config.Host)
	}

	t.logger.DebugContext(ctx, "sending message", "to", len(msg.To), "cc", len(msg.Cc), "host", t.config.Host)

	if t.config.TLS {
		return t.sendTLS(addr, auth, t.config.From, recipients, body)
	}

	return smtp.SendMail(addr, auth, t.config.From, recipients, body)
}

func (t *SMTPTransport) sendTLS(addr string, auth smtp.Auth, from string, to []string, body []byte) error {
	tlsConfig := &tls.Config{
		ServerName: t.config.Host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("tls dial %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, t.config.Host)
	if err != nil {
		conn.Close()

		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}

	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}

	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("smtp write body: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}

	return client.Quit()
}

const attachmentBoundary = "flowmail-attachment-boundary"

// composeMessage builds the full RFC 5322 message, multipart when
// attachments are present.
func composeMessage(from string, msg *Message) []byte {
	var b strings.Builder

	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(msg.To, ", ") + "\r\n")

	if len(msg.Cc) > 0 {
		b.WriteString("Cc: " + strings.Join(msg.Cc, ", ") + "\r\n")
	}

	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	if len(msg.Attachments) == 0 {
		b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
		b.WriteString("\r\n")
		b.WriteString(msg.Body)

		return []byte(b.String())
	}

	b.WriteString("Content-Type: multipart/mixed; boundary=\"" + attachmentBoundary + "\"\r\n")
	b.WriteString("\r\n")

	b.WriteString("--" + attachmentBoundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")

	for _, attachment := range msg.Attachments {
		contentType := attachment.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		b.WriteString("--" + attachmentBoundary + "\r\n")
		b.WriteString("Content-Type: " + contentType + "\r\n")
		b.WriteString("Content-Transfer-Encoding: base64\r\n")
		b.WriteString("Content-Disposition: attachment; filename=\"" + attachment.Filename + "\"\r\n")
		b.WriteString("\r\n")
		b.WriteString(base64.StdEncoding.EncodeToString(attachment.Content))
		b.WriteString("\r\n")
	}

	b.WriteString("--" + attachmentBoundary + "--\r\n")

	return []byte(b.String())
}
