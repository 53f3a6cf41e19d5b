package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/exoxegroup/eng-ai/internal/domain"
)

// appendAttempts bounds retries when two writers race for the same seq.
const appendAttempts = 3

// AppendMessage stores m as the next message of the session and bumps the
// session's total_messages by one in the same transaction. ID and CreatedAt
// are filled in when empty. Terminated sessions yield ErrConflict.
func AppendMessage(ctx context.Context, db *gorm.DB, sessionID string, m domain.Message) (*domain.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.SessionID = sessionID

	var err error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var s domain.Session
			if err := tx.Select("id", "status").Where("id = ?", sessionID).First(&s).Error; err != nil {
				return err
			}
			if s.Status == domain.StatusTerminated {
				return ErrConflict
			}
			var last int
			if err := tx.Model(&domain.Message{}).
				Where("session_id = ?", sessionID).
				Select("COALESCE(MAX(seq), 0)").
				Scan(&last).Error; err != nil {
				return err
			}
			m.Seq = last + 1
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
			return tx.Model(&domain.Session{}).
				Where("id = ?", sessionID).
				Updates(map[string]any{
					"total_messages": gorm.Expr("total_messages + 1"),
					"updated_at":     time.Now().UTC(),
				}).Error
		})
		if err == nil || !isUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages in conversation order (seq ASC).
func ListMessages(ctx context.Context, db *gorm.DB, sessionID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).Where("session_id = ?", sessionID).Order("seq ASC, created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, sessionID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice in conversation order.
func ListMessagesPage(ctx context.Context, db *gorm.DB, sessionID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq ASC, created_at ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
