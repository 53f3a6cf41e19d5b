package domain

import "time"

// VerificationCode is a short-lived, single-use credential keyed by its
// delivery target. Only a hash of the code is stored; at most one row
// exists per target.
type VerificationCode struct {
	Target    string    `gorm:"type:varchar(320);primaryKey"`
	CodeHash  string    `gorm:"type:varchar(100);not null"`
	IssuedAt  time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (VerificationCode) TableName() string { return "verification_codes" }

// Expired reports whether the code is no longer valid at now.
func (c *VerificationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Remaining returns the time left before expiry, never negative.
func (c *VerificationCode) Remaining(now time.Time) time.Duration {
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
