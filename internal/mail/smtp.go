// Package mail delivers one-time verification codes by email over SMTP.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// Subject is the subject line of every verification email.
const Subject = "Engineering AI Coach - Researcher Access OTP"

// ErrNotConfigured is returned when no SMTP host or sender is set.
var ErrNotConfigured = errors.New("smtp not configured")

// Config holds SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Configured reports whether enough settings are present to send mail.
func (c Config) Configured() bool { return c.Host != "" && c.From != "" }

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// SMTP sends verification codes through an SMTP relay.
type SMTP struct {
	cfg    Config
	client sender
}

// NewSMTP builds a channel for cfg. It fails with ErrNotConfigured when the
// host or sender address is missing.
func NewSMTP(cfg Config) (*SMTP, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(cfg.Timeout),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTP{cfg: cfg, client: client}, nil
}

// Send delivers code to target, stating how long it stays valid.
func (s *SMTP) Send(ctx context.Context, target, code string, ttl time.Duration) error {
	msg, err := buildMessage(s.cfg.From, target, code, ttl)
	if err != nil {
		return err
	}
	return s.client.DialAndSendWithContext(ctx, msg)
}

func buildMessage(from, to, code string, ttl time.Duration) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	m.Subject(Subject)

	minutes := int(ttl.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	m.SetBodyString(gomail.TypeTextPlain, fmt.Sprintf(
		"Your Engineering AI Coach verification code is %s.\n\nIt expires in %d minutes. If you didn't request this code, please ignore this email.\n",
		code, minutes))

	var html bytes.Buffer
	if err := bodyTemplate.Execute(&html, struct {
		Code    string
		Minutes int
	}{code, minutes}); err != nil {
		return nil, err
	}
	m.AddAlternativeString(gomail.TypeTextHTML, html.String())
	return m, nil
}

var bodyTemplate = template.Must(template.New("otp").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1 style="font-size: 24px;">Engineering AI Coach</h1>
  <p>Researcher Verification</p>
  <h2>Your Verification Code</h2>
  <p>Use the following 6-digit code to access the researcher dashboard and analysis features:</p>
  <p style="font-size: 32px; font-weight: bold; letter-spacing: 8px;">{{.Code}}</p>
  <p><strong>Important:</strong> This code will expire in {{.Minutes}} minutes for security purposes.</p>
  <p style="font-size: 14px;">If you didn't request this code, please ignore this email.</p>
  <p style="font-size: 12px; color: #888;">Engineering AI Coach - Research Platform</p>
</div>`))
