package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/exoxegroup/eng-ai/internal/domain"
)

// GetIdempotency returns the live record for (sessionID, key) or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, sessionID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).Take(&rec, "session_id = ? AND key = ?", sessionID, key).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	case !rec.Live(now):
		return nil, ErrNotFound
	}
	return &rec, nil
}

// CreateIdempotency records messageID as the result of the turn keyed by
// (sessionID, key). An expired record under the same key is replaced; a
// live one yields ErrDuplicate.
func CreateIdempotency(ctx context.Context, db *gorm.DB, sessionID, key, messageID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	return insertIdempotency(ctx, db, sessionID, key, messageID, status, ttl)
}

// ReserveIdempotency claims (sessionID, key) for a turn about to run. The
// reservation holds for hold and carries no message until
// CompleteIdempotency. A live record or reservation yields ErrDuplicate.
func ReserveIdempotency(ctx context.Context, db *gorm.DB, sessionID, key string, hold time.Duration) (*domain.Idempotency, error) {
	return insertIdempotency(ctx, db, sessionID, key, "", 0, hold)
}

// CompleteIdempotency turns a reservation into a replayable record for
// messageID. A missing reservation yields ErrNotFound.
func CompleteIdempotency(ctx context.Context, db *gorm.DB, sessionID, key, messageID string, status int, ttl time.Duration) error {
	res := db.WithContext(ctx).
		Model(&domain.Idempotency{}).
		Where("session_id = ? AND key = ? AND message_id = ''", sessionID, key).
		Updates(map[string]any{
			"message_id": messageID,
			"status":     status,
			"expires_at": time.Now().UTC().Add(ttl),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseIdempotency drops a reservation whose turn failed so the key can
// be retried. Completed records are kept.
func ReleaseIdempotency(ctx context.Context, db *gorm.DB, sessionID, key string) error {
	return db.WithContext(ctx).
		Where("session_id = ? AND key = ? AND message_id = ''", sessionID, key).
		Delete(&domain.Idempotency{}).Error
}

func insertIdempotency(ctx context.Context, db *gorm.DB, sessionID, key, messageID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		SessionID: sessionID,
		Key:       key,
		MessageID: messageID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ? AND key = ? AND expires_at <= ?", sessionID, key, now).
			Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// DeleteExpiredIdempotency removes records whose replay window has closed.
func DeleteExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
