package domain

import "time"

// Idempotency remembers which message a conversation turn produced so a
// retried turn with the same Idempotency-Key replays it. A key is scoped to
// its session and can be reused once the record expires.
type Idempotency struct {
	SessionID string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Key       string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	MessageID string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index:idx_idem_expiry"`
}

func (Idempotency) TableName() string { return "idempotency" }

// Pending reports whether the keyed turn is still running: the key is
// reserved but no message has been recorded yet.
func (r Idempotency) Pending() bool { return r.MessageID == "" }

// Live reports whether the record can still be replayed at now.
func (r Idempotency) Live(now time.Time) bool { return now.Before(r.ExpiresAt) }
