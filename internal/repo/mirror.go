package repo

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/exoxegroup/eng-ai/internal/domain"
)

// Mirror is the local best-effort copy of finished sessions that the durable
// store rejected. It lives in its own SQLite file so it stays writable when
// the durable store is down.
type Mirror struct {
	db *gorm.DB
}

// OpenMirror opens (or creates) the mirror database at path.
func OpenMirror(path string) (*Mirror, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return NewMirror(db)
}

// NewMirror wraps an already opened database and migrates the mirror table.
func NewMirror(db *gorm.DB) (*Mirror, error) {
	if err := db.AutoMigrate(&domain.MirroredSession{}); err != nil {
		return nil, err
	}
	return &Mirror{db: db}, nil
}

// Save stores a snapshot of s, replacing an older snapshot of the same session.
func (m *Mirror) Save(ctx context.Context, s *domain.Session, reason string) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	rec := &domain.MirroredSession{
		SessionID:  s.ID,
		Payload:    string(payload),
		Reason:     reason,
		MirroredAt: time.Now().UTC(),
	}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "reason", "mirrored_at"}),
	}).Create(rec).Error
}

// List returns mirrored entries oldest first.
func (m *Mirror) List(ctx context.Context) ([]domain.MirroredSession, error) {
	var out []domain.MirroredSession
	err := m.db.WithContext(ctx).Order("mirrored_at ASC, session_id ASC").Find(&out).Error
	return out, err
}

// Delete drops the entry for sessionID.
func (m *Mirror) Delete(ctx context.Context, sessionID string) error {
	return m.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&domain.MirroredSession{}).Error
}

// Decode restores the session snapshot held by an entry.
func Decode(rec domain.MirroredSession) (*domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal([]byte(rec.Payload), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Close releases the underlying connection pool.
func (m *Mirror) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
