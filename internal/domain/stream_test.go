package domain

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStreamingMessage_AppendAndCommitOnce(t *testing.T) {
	m := NewStreamingMessage("s1")
	if got, err := m.Append("Hello"); err != nil || got != "Hello" {
		t.Fatalf("Append = %q, %v", got, err)
	}
	if got, _ := m.Append(", world"); got != "Hello, world" {
		t.Fatalf("accumulated text = %q", got)
	}

	msg, err := m.Commit("", time.Unix(100, 0))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if msg.Content != "Hello, world" || msg.Role != RoleAssistant || msg.SessionID != "s1" || msg.ID == "" {
		t.Fatalf("unexpected committed message: %+v", msg)
	}
	if !m.Committed() || m.Chunks() != 2 {
		t.Fatalf("committed=%v chunks=%d", m.Committed(), m.Chunks())
	}

	if _, err := m.Append("late"); !errors.Is(err, ErrMessageFinalized) {
		t.Fatalf("Append after commit: want ErrMessageFinalized, got %v", err)
	}
	if _, err := m.Commit("", time.Now()); !errors.Is(err, ErrMessageFinalized) {
		t.Fatalf("second Commit: want ErrMessageFinalized, got %v", err)
	}
	if m.Text() != "Hello, world" {
		t.Fatalf("text must not change after commit: %q", m.Text())
	}
}

func TestStreamingMessage_CommitOverride(t *testing.T) {
	m := NewStreamingMessage("s1")
	_, _ = m.Append("partial")
	msg, err := m.Commit(ApologyText, time.Now())
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if msg.Content != ApologyText {
		t.Fatalf("override content not applied: %q", msg.Content)
	}
}

func TestStreamingMessage_ConcurrentAppend(t *testing.T) {
	m := NewStreamingMessage("s1")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Append("x")
		}()
	}
	wg.Wait()
	msg, _ := m.Commit("", time.Now())
	if len(msg.Content) != 50 {
		t.Fatalf("expected 50 chunks, got %d", len(msg.Content))
	}
}

func TestScriptMatchers(t *testing.T) {
	for _, in := range []string{"I AM SATISFIED NOW", "ok, end session please", "End Session"} {
		if !IsEndSession(in) {
			t.Fatalf("IsEndSession(%q) = false", in)
		}
	}
	if IsEndSession("I am satisfied") {
		t.Fatalf("partial phrase must not end the session")
	}
	if !AsksSatisfaction("Here is the plan.\n\n" + SatisfactionQuestion) {
		t.Fatalf("AsksSatisfaction should find the survey question")
	}
}

func TestVerificationCode_ExpiryBoundary(t *testing.T) {
	now := time.Unix(1_000, 0)
	c := &VerificationCode{ExpiresAt: now.Add(time.Minute)}
	if c.Expired(now) || c.Remaining(now) != time.Minute {
		t.Fatalf("fresh code: expired=%v remaining=%v", c.Expired(now), c.Remaining(now))
	}
	at := now.Add(time.Minute)
	if !c.Expired(at) || c.Remaining(at) != 0 {
		t.Fatalf("now == expiry must count as expired")
	}
}
