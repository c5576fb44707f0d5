package notify

import (
	"context"
	"fmt"
	"io"

	gomail "gopkg.in/gomail.v2"
)

// EmailConfig holds SMTP settings for the email channel.
type EmailConfig struct {
	Host     string
	Port     int
	From     string
	To       string
	Password string
}

// EmailChannel sends plain-text messages over SMTP.
type EmailChannel struct {
	config  EmailConfig
	enabled bool
}

func NewEmailChannel(cfg EmailConfig) (*EmailChannel, error) {
	if cfg.Host == "" || cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("email: host, from and to are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailChannel{config: cfg, enabled: true}, nil
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) Enabled() bool { return e != nil && e.enabled }

func (e *EmailChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", e.config.From)
	m.SetHeader("To", e.config.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)

	if len(msg.Photo) > 0 {
		name := msg.PhotoName
		if name == "" {
			name = "chart.png"
		}
		m.Attach(name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(msg.Photo)
			return err
		}))
	}

	d := gomail.NewDialer(e.config.Host, e.config.Port, e.config.From, e.config.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("email: dial and send: %w", err)
	}
	return nil
}
