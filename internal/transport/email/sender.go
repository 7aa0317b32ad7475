package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/halaqat/scheduler-api/internal/transport"
)

// Config holds SMTP settings for the email channel.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender delivers messages over SMTP for recipients whose preferred
// channel is email.
type Sender struct {
	cfg    Config
	dialer *gomail.Dialer
}

func NewSender(cfg Config) *Sender {
	return &Sender{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (s *Sender) Send(ctx context.Context, msg transport.Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", msg.To)
	subject := msg.Subject
	if subject == "" {
		subject = "Session update"
	}
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", msg.Body)

	// gomail has no context support; honour cancellation before dialing.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
