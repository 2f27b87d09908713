package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-mail/mail"
)

// SenderName is the display name used for outgoing email.
const SenderName = "QBT Manager"

// EmailConfig holds the SMTP settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
	ToName   string
	// SSL selects implicit TLS. Without it STARTTLS is used when offered.
	SSL     bool
	Timeout time.Duration
}

type mailSender interface {
	DialAndSend(m ...*mail.Message) error
}

// Email sends notifications over SMTP.
type Email struct {
	cfg    EmailConfig
	sender mailSender
}

// NewEmail returns an Email notifier for cfg.
func NewEmail(cfg EmailConfig) *Email {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.SSL
	d.StartTLSPolicy = mail.OpportunisticStartTLS
	if cfg.Timeout > 0 {
		d.Timeout = cfg.Timeout
	}
	return &Email{cfg: cfg, sender: d}
}

// Notify sends msg as a plain text email.
func (e *Email) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.sender.DialAndSend(e.compose(msg)); err != nil {
		return fmt.Errorf("send email to %s: %w", e.cfg.To, err)
	}
	return nil
}

func (e *Email) compose(msg Message) *mail.Message {
	m := mail.NewMessage()
	m.SetAddressHeader("From", e.cfg.From, SenderName)
	m.SetAddressHeader("To", e.cfg.To, e.cfg.ToName)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	return m
}
