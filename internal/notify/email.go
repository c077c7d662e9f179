package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// ErrUnavailable marks a delivery failure the caller may retry.
var ErrUnavailable = errors.New("notification provider unavailable")

// EmailSender delivers a single message. Implementations must honour ctx deadlines.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string // plain text
	HTML    string // optional
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

// SendGridSender sends through the SendGrid v3 API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger zerolog.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.FromName == "" {
		cfg.FromName = "Telehealth"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		timeout:   cfg.Timeout,
		logger:    logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, html)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error().Err(err).Str("to", msg.To).Msg("sendgrid send failed")
		return fmt.Errorf("notify: sendgrid send: %w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == 429 || resp.StatusCode >= 500:
		s.logger.Error().Int("status", resp.StatusCode).Str("to", msg.To).Msg("sendgrid temporarily unavailable")
		return fmt.Errorf("notify: sendgrid returned status %d: %w", resp.StatusCode, ErrUnavailable)
	case resp.StatusCode >= 400:
		s.logger.Error().Int("status", resp.StatusCode).Str("body", resp.Body).Str("to", msg.To).Msg("sendgrid rejected message")
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}

	s.logger.Info().Str("to", msg.To).Str("subject", msg.Subject).Int("status", resp.StatusCode).Msg("email sent via sendgrid")
	return nil
}

// LogSender writes the envelope to the log instead of delivering it. Bodies are not logged.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("log sender: email not delivered")
	return nil
}
