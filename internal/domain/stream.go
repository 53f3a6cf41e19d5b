package domain

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMessageFinalized is returned when a streaming message is mutated or
// committed after its single commit.
var ErrMessageFinalized = errors.New("message already finalized")

// StreamingMessage is the provisional form of an assistant reply whose text
// grows while the coaching oracle streams. Commit turns it into an immutable
// Message exactly once; afterwards every mutation fails.
type StreamingMessage struct {
	mu        sync.Mutex
	sessionID string
	buf       strings.Builder
	chunks    int
	committed bool
}

// NewStreamingMessage starts a provisional assistant reply for sessionID.
func NewStreamingMessage(sessionID string) *StreamingMessage {
	return &StreamingMessage{sessionID: sessionID}
}

// Append adds chunk to the provisional text and returns the text so far.
func (m *StreamingMessage) Append(chunk string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.committed {
		return "", ErrMessageFinalized
	}
	m.buf.WriteString(chunk)
	m.chunks++
	return m.buf.String(), nil
}

// Text returns the provisional text accumulated so far.
func (m *StreamingMessage) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.String()
}

// Chunks returns how many chunks were appended.
func (m *StreamingMessage) Chunks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunks
}

// Commit finalizes the reply. When content is non-empty it replaces the
// streamed text (used for the fallback apology); otherwise the streamed text
// is kept. The returned Message is not yet persisted.
func (m *StreamingMessage) Commit(content string, now time.Time) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.committed {
		return Message{}, ErrMessageFinalized
	}
	m.committed = true
	if content == "" {
		content = m.buf.String()
	}
	return Message{
		ID:        uuid.NewString(),
		SessionID: m.sessionID,
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: now.UTC(),
	}, nil
}

// Committed reports whether Commit already ran.
func (m *StreamingMessage) Committed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}
