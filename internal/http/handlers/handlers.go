// Package handlers contains the Gin handlers of the public API.
//
// Handlers are transport-thin: they validate input, call the application
// services through the narrow interfaces below, and translate results and
// service errors into HTTP responses.
package handlers

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/exoxegroup/eng-ai/internal/domain"
	"github.com/exoxegroup/eng-ai/internal/repo"
	"github.com/exoxegroup/eng-ai/internal/services"
)

//
// Service contracts (context-aware)
//

// ConversationService runs the coaching conversation.
type ConversationService interface {
	Start(ctx context.Context, clientIP string) (*domain.Session, error)
	Turn(ctx context.Context, sessionID, text string, sink services.Sink) (*services.TurnResult, error)
	Terminate(ctx context.Context, sessionID string, outcome domain.Satisfaction) (*services.Termination, error)
}

// SessionService is the researcher CRUD over stored sessions.
type SessionService interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Session, int64, error)
	Create(ctx context.Context, s *domain.Session) (*domain.Session, error)
	Update(ctx context.Context, id string, p repo.SessionPatch) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
	ListMessages(ctx context.Context, id string, page, pageSize int) ([]domain.Message, int64, error)
	AppendMessage(ctx context.Context, id, role, content string) (*domain.Message, error)
}

// VerificationGate issues and checks one-time codes.
type VerificationGate interface {
	Issue(ctx context.Context, target string) (time.Duration, error)
	Verify(ctx context.Context, target, code string) error
	Status(ctx context.Context, target string) (services.CodeStatus, error)
}

// AnalyticsService aggregates sessions per country.
type AnalyticsService interface {
	Countries(ctx context.Context) ([]services.CountryStats, error)
}

// MirrorLister lists sessions kept only in the local mirror.
type MirrorLister interface {
	List(ctx context.Context) ([]domain.MirroredSession, error)
}

// TokenIssuer mints researcher bearer tokens after a successful verification.
type TokenIssuer interface {
	Issue(email string) (string, time.Time, error)
}

//
// Handler wiring
//

// Deps bundles everything the handlers need. Mirror may be nil.
type Deps struct {
	// DB backs ETags, idempotent replays and the detailed health check.
	DB *gorm.DB

	Conversations ConversationService
	Sessions      SessionService
	Verification  VerificationGate
	Analytics     AnalyticsService
	Mirror        MirrorLister
	Tokens        TokenIssuer

	// IdempotencyTTL is how long a recorded turn can be replayed.
	IdempotencyTTL time.Duration
	// MaxMessageRunes caps user messages at the edge.
	MaxMessageRunes int
	// WSOrigins are the cross-origin websocket clients allowed, as origins
	// or host patterns. Empty allows same-origin only.
	WSOrigins []string
}

// Handlers groups all HTTP endpoints.
type Handlers struct {
	Deps
}

// New constructs Handlers with defaults for unset limits.
func New(d Deps) *Handlers {
	if d.IdempotencyTTL <= 0 {
		d.IdempotencyTTL = 24 * time.Hour
	}
	if d.MaxMessageRunes <= 0 {
		d.MaxMessageRunes = 8000
	}
	return &Handlers{Deps: d}
}
