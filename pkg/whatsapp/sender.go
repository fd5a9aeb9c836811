package whatsapp

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/harun/agentkit/internal/observability"
	"github.com/harun/agentkit/internal/tracing"
	"github.com/harun/agentkit/pkg/hooks"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// SendURL is the WhatsApp Web deep link for composing a message.
	SendURL = "https://web.whatsapp.com/send"
	// SendButtonXPath locates the send button of the compose box.
	SendButtonXPath = "//span[@data-icon='send']"

	DefaultWaitTimeout = 30 * time.Second
	DefaultSettle      = 2 * time.Second
	DefaultDelay       = 10 * time.Second
	DefaultRetryDelay  = 30 * time.Second
)

// Config holds sender timings. Zero values select the defaults.
type Config struct {
	WaitTimeout time.Duration
	Settle      time.Duration
	Delay       time.Duration
	RetryDelay  time.Duration
	// MaxMessages stops RunLoop after that many attempts. Zero runs until
	// the context is cancelled.
	MaxMessages int
}

// Stats summarizes a RunLoop.
type Stats struct {
	Attempts int `json:"attempts"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
}

// Sender sends WhatsApp messages through WhatsApp Web.
type Sender struct {
	driver Driver
	cfg    Config
	hooks  *hooks.Manager
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewSender creates a sender on top of driver.
func NewSender(driver Driver, cfg Config, hookManager *hooks.Manager, logger zerolog.Logger) (*Sender, error) {
	if driver == nil {
		return nil, fmt.Errorf("driver is required")
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	observability.EnsureRegistered()

	return &Sender{
		driver: driver,
		cfg:    cfg,
		hooks:  hookManager,
		logger: logger.With().Str("component", "whatsapp").Logger(),
		sleep:  sleepContext,
	}, nil
}

// MessageURL builds the compose link for phone and message. A leading or
// embedded "+" is removed from the phone number and spaces in the message
// are encoded as %20.
func MessageURL(phone, message string) string {
	phone = strings.ReplaceAll(phone, "+", "")
	text := strings.ReplaceAll(url.QueryEscape(message), "+", "%20")
	return SendURL + "?phone=" + url.QueryEscape(phone) + "&text=" + text
}

// Send opens the compose link and clicks send.
func (s *Sender) Send(ctx context.Context, phone, message string) (err error) {
	ctx, span := tracing.StartSpan(ctx, "agentkit.whatsapp", "whatsapp.send",
		attribute.Int("message_length", len(message)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	recipient := strings.ReplaceAll(phone, "+", "")

	defer func() {
		observability.RecordWhatsAppSend(err == nil)
		data := map[string]any{"phone": recipient, "message": message}
		if err != nil {
			tracing.Fail(span, err)
			observability.RecordMessageAudit(ctx, "whatsapp", recipient, "failed")
			data["error"] = err.Error()
			s.hooks.Fire(ctx, hooks.EventWhatsAppFailed, data)
			return
		}
		observability.RecordMessageAudit(ctx, "whatsapp", recipient, "sent")
		s.hooks.Fire(ctx, hooks.EventWhatsAppSent, data)
	}()

	if strings.TrimSpace(recipient) == "" {
		return fmt.Errorf("phone number is required")
	}

	if err := s.driver.Navigate(ctx, MessageURL(phone, message)); err != nil {
		return fmt.Errorf("failed to open chat: %w", err)
	}
	if err := s.driver.WaitFor(ctx, SendButtonXPath, s.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("send button did not appear: %w", err)
	}
	if err := s.sleep(ctx, s.cfg.Settle); err != nil {
		return err
	}
	if err := s.driver.ClickWhenReady(ctx, SendButtonXPath, s.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("failed to click send: %w", err)
	}
	if err := s.sleep(ctx, s.cfg.Settle); err != nil {
		return err
	}

	logger.Info().Msg("Message sent successfully")
	return nil
}

// RunLoop cycles through messages until ctx is cancelled or MaxMessages
// attempts were made. A delay of zero uses the configured delay.
func (s *Sender) RunLoop(ctx context.Context, phone string, messages []string, delay time.Duration) (Stats, error) {
	var stats Stats
	if len(messages) == 0 {
		return stats, fmt.Errorf("at least one message is required")
	}
	if delay <= 0 {
		delay = s.cfg.Delay
	}

	s.logger.Info().Int("messages", len(messages)).Dur("delay", delay).Msg("Starting message loop")
	defer func() {
		s.logger.Info().
			Int("attempts", stats.Attempts).
			Int("sent", stats.Sent).
			Int("failed", stats.Failed).
			Msg("Message loop stopped")
	}()

	for {
		if ctx.Err() != nil {
			return stats, nil
		}

		message := messages[stats.Attempts%len(messages)]
		s.logger.Info().Int("message", stats.Attempts+1).Msg("Sending message")
		err := s.Send(ctx, phone, message)
		stats.Attempts++

		wait := delay
		if err != nil {
			if ctx.Err() != nil {
				return stats, nil
			}
			stats.Failed++
			wait = s.cfg.RetryDelay
			s.logger.Error().Err(err).Dur("retry_in", wait).Msg("Error sending message")
		} else {
			stats.Sent++
		}

		if s.cfg.MaxMessages > 0 && stats.Attempts >= s.cfg.MaxMessages {
			return stats, nil
		}
		if err := s.sleep(ctx, wait); err != nil {
			return stats, nil
		}
	}
}

// Close releases the browser.
func (s *Sender) Close() error {
	return s.driver.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
