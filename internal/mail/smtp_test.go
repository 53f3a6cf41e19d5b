package mail

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	gomail "github.com/wneessen/go-mail"
)

type captureSender struct {
	msgs []*gomail.Msg
	err  error
}

func (c *captureSender) DialAndSendWithContext(_ context.Context, msgs ...*gomail.Msg) error {
	c.msgs = append(c.msgs, msgs...)
	return c.err
}

func TestNewSMTP_RequiresHostAndFrom(t *testing.T) {
	if _, err := NewSMTP(Config{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := NewSMTP(Config{Host: "smtp.example.com"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured without From, got %v", err)
	}
	s, err := NewSMTP(Config{Host: "smtp.example.com", From: "coach@example.com", Username: "u", Password: "p"})
	if err != nil || s == nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	if s.cfg.Port != 587 {
		t.Fatalf("default port = %d", s.cfg.Port)
	}
}

func TestSend_BuildsMessage(t *testing.T) {
	snd := &captureSender{}
	s := &SMTP{cfg: Config{From: "coach@example.com"}, client: snd}

	if err := s.Send(context.Background(), "researcher@uni.edu", "004217", 10*time.Minute); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(snd.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(snd.msgs))
	}
	var buf bytes.Buffer
	if _, err := snd.msgs[0].WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	raw := buf.String()
	for _, want := range []string{"researcher@uni.edu", "coach@example.com", "Researcher Access OTP", "004217", "10 minutes"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("message missing %q:\n%s", want, raw)
		}
	}
}

func TestSend_PropagatesFailures(t *testing.T) {
	boom := errors.New("relay down")
	s := &SMTP{cfg: Config{From: "coach@example.com"}, client: &captureSender{err: boom}}
	if err := s.Send(context.Background(), "a@b.io", "123456", time.Minute); !errors.Is(err, boom) {
		t.Fatalf("expected relay error, got %v", err)
	}

	s = &SMTP{cfg: Config{From: "not an address"}, client: &captureSender{}}
	if err := s.Send(context.Background(), "a@b.io", "123456", time.Minute); err == nil {
		t.Fatalf("expected bad from address to fail")
	}
}
