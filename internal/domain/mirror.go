package domain

import "time"

// MirroredSession is a local, best-effort copy of a finished session that
// could not be written to the durable store. It is never read back as the
// source of truth; a resync pass pushes it to the durable store and removes it.
type MirroredSession struct {
	SessionID  string    `json:"session_id"  gorm:"type:varchar(64);primaryKey"`
	Payload    string    `json:"payload"     gorm:"type:text;not null"`
	Reason     string    `json:"reason"      gorm:"type:text"`
	MirroredAt time.Time `json:"mirrored_at" gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (MirroredSession) TableName() string { return "session_mirror" }
