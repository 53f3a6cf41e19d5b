package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/exoxegroup/eng-ai/internal/domain"
	"github.com/exoxegroup/eng-ai/internal/repo"
)

// SessionStore is the persistence contract the conversation state machine
// needs. Conditional writes (the *Once setters, ClaimTermination and
// FinalizeSession) must be atomic in the store so that concurrent
// processes cannot break the write-once and single-report guarantees.
type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string, withMessages bool) (*domain.Session, error)
	AppendMessage(ctx context.Context, sessionID string, m domain.Message) (*domain.Message, error)
	SetCountryOnce(ctx context.Context, id, country string) (bool, error)
	SetOriginalPromptOnce(ctx context.Context, id, prompt string) (bool, error)
	AddCounters(ctx context.Context, id string, d repo.CounterDelta) error
	ClaimTermination(ctx context.Context, id string) (*domain.Session, error)
	FinalizeSession(ctx context.Context, s *domain.Session) error
	StaleTerminations(ctx context.Context, before time.Time) ([]domain.Session, error)
}

// gormStore adapts the repo free functions to SessionStore.
type gormStore struct {
	db *gorm.DB
}

// NewSessionStore returns the GORM-backed SessionStore.
func NewSessionStore(db *gorm.DB) SessionStore { return gormStore{db: db} }

func (s gormStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	return repo.CreateSession(ctx, s.db, sess)
}

func (s gormStore) GetSession(ctx context.Context, id string, withMessages bool) (*domain.Session, error) {
	return repo.GetSession(ctx, s.db, id, withMessages)
}

func (s gormStore) AppendMessage(ctx context.Context, sessionID string, m domain.Message) (*domain.Message, error) {
	return repo.AppendMessage(ctx, s.db, sessionID, m)
}

func (s gormStore) SetCountryOnce(ctx context.Context, id, country string) (bool, error) {
	return repo.SetCountryOnce(ctx, s.db, id, country)
}

func (s gormStore) SetOriginalPromptOnce(ctx context.Context, id, prompt string) (bool, error) {
	return repo.SetOriginalPromptOnce(ctx, s.db, id, prompt)
}

func (s gormStore) AddCounters(ctx context.Context, id string, d repo.CounterDelta) error {
	return repo.AddCounters(ctx, s.db, id, d)
}

func (s gormStore) ClaimTermination(ctx context.Context, id string) (*domain.Session, error) {
	return repo.ClaimTermination(ctx, s.db, id)
}

func (s gormStore) FinalizeSession(ctx context.Context, sess *domain.Session) error {
	return repo.FinalizeSession(ctx, s.db, sess)
}

func (s gormStore) StaleTerminations(ctx context.Context, before time.Time) ([]domain.Session, error) {
	return repo.ListStaleTerminations(ctx, s.db, before)
}

// Mirror is the local fallback for sessions the durable store rejected.
type Mirror interface {
	Save(ctx context.Context, s *domain.Session, reason string) error
	List(ctx context.Context) ([]domain.MirroredSession, error)
	Delete(ctx context.Context, sessionID string) error
}
