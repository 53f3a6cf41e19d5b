// SessionService validates researcher edits before they reach the
// repository. A finished session is frozen, write-once fields are never
// replaced, and an end time requires a captured country.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/exoxegroup/eng-ai/internal/domain"
	"github.com/exoxegroup/eng-ai/internal/repo"
	"github.com/exoxegroup/eng-ai/internal/utils"
)

// SessionService provides session CRUD for the researcher views.
type SessionService struct {
	DB *gorm.DB
	// MaxPageSize caps page sizes requested by clients.
	MaxPageSize int
}

// NewSessionService constructs a SessionService with a 100 item page cap.
func NewSessionService(db *gorm.DB) *SessionService {
	return &SessionService{DB: db, MaxPageSize: utils.MaxPageSize}
}

func (s *SessionService) pageBounds(page, pageSize int) (offset, limit int) {
	p := utils.NewPage(page, pageSize, s.MaxPageSize)
	return p.Offset(), p.Size
}

// Get returns one session with its messages.
func (s *SessionService) Get(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := repo.GetSession(ctx, s.DB, id, true)
	if err != nil {
		return nil, storeErr(err)
	}
	return sess, nil
}

// ListPage returns sessions newest first together with the total count.
func (s *SessionService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Session, int64, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	offset, limit := s.pageBounds(page, pageSize)
	total, err := repo.CountSessions(ctx, s.DB)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	if total == 0 {
		return []domain.Session{}, 0, nil
	}
	items, err := repo.ListSessions(ctx, s.DB, offset, limit)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	return items, total, nil
}

// All returns every session newest first. It backs the export command.
func (s *SessionService) All(ctx context.Context) ([]domain.Session, error) {
	items, err := repo.ListSessions(ctx, s.DB, 0, -1)
	if err != nil {
		return nil, storeErr(err)
	}
	return items, nil
}

// Create stores a complete session record with optional embedded messages.
func (s *SessionService) Create(ctx context.Context, sess *domain.Session) (*domain.Session, error) {
	if sess == nil {
		return nil, ErrInvalidSession
	}
	if err := validateSession(sess); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sess.ID) == "" {
		sess.ID = SessionIDPrefix + uuid.NewString()
	}
	if sess.StartTime.IsZero() {
		sess.StartTime = time.Now().UTC()
	}
	sess.Status = domain.StatusActive
	if sess.EndTime != nil {
		sess.Status = domain.StatusTerminated
		if sess.DurationSeconds == nil {
			d := int64(sess.EndTime.Sub(sess.StartTime) / time.Second)
			sess.DurationSeconds = &d
		}
	}
	if err := repo.CreateSession(ctx, s.DB, sess); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, fmt.Errorf("%w: id %q already exists", ErrInvalidSession, sess.ID)
		}
		return nil, storeErr(err)
	}
	return repo.GetSession(ctx, s.DB, sess.ID, true)
}

func validateSession(sess *domain.Session) error {
	if sess.EndTime != nil && !sess.Started() {
		return fmt.Errorf("%w: finished session without country", ErrInvalidSession)
	}
	if sess.EndTime != nil && sess.EndTime.Before(sess.StartTime) {
		return fmt.Errorf("%w: end before start", ErrInvalidSession)
	}
	if sess.UserSatisfaction != "" && !sess.UserSatisfaction.Valid() {
		return fmt.Errorf("%w: satisfaction %q", ErrInvalidSession, sess.UserSatisfaction)
	}
	if err := checkScore("engagement", sess.EngagementScore); err != nil {
		return err
	}
	if err := checkScore("intelligence", sess.IntelligenceScore); err != nil {
		return err
	}
	for i, m := range sess.Messages {
		if err := checkMessage(m.Role, m.Content); err != nil {
			return err
		}
		if i == 0 && m.Role != domain.RoleAssistant {
			return fmt.Errorf("%w: first message must be the assistant greeting", ErrInvalidSession)
		}
	}
	return nil
}

func checkScore(name string, v *int) error {
	if v != nil && !validScore(*v) {
		return fmt.Errorf("%w: %s score %d", ErrInvalidSession, name, *v)
	}
	return nil
}

func checkMessage(role, content string) error {
	if role != domain.RoleUser && role != domain.RoleAssistant {
		return fmt.Errorf("%w: role %q", ErrInvalidSession, role)
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// Update applies a partial patch. Finished sessions are frozen and
// write-once fields keep their first value.
func (s *SessionService) Update(ctx context.Context, id string, p repo.SessionPatch) (*domain.Session, error) {
	if p.Empty() {
		return nil, fmt.Errorf("%w: empty patch", ErrInvalidSession)
	}
	if p.UserSatisfaction != nil && !p.UserSatisfaction.Valid() {
		return nil, fmt.Errorf("%w: satisfaction %q", ErrInvalidSession, *p.UserSatisfaction)
	}
	if err := checkScore("engagement", p.EngagementScore); err != nil {
		return nil, err
	}
	if err := checkScore("intelligence", p.IntelligenceScore); err != nil {
		return nil, err
	}

	cur, err := repo.GetSession(ctx, s.DB, id, false)
	if err != nil {
		return nil, storeErr(err)
	}
	if cur.Status != domain.StatusActive {
		return nil, ErrSessionTerminated
	}
	if changesOnce(cur.CountryOfOrigin, p.CountryOfOrigin) {
		return nil, fmt.Errorf("%w: country of origin is already set", ErrInvalidSession)
	}
	if changesOnce(cur.OriginalPrompt, p.OriginalPrompt) {
		return nil, fmt.Errorf("%w: original prompt is already set", ErrInvalidSession)
	}

	out, err := repo.UpdateSession(ctx, s.DB, id, p)
	switch {
	case errors.Is(err, repo.ErrConflict) && out != nil && out.Status == domain.StatusActive:
		// a concurrent turn set a write-once field first
		return nil, fmt.Errorf("%w: write-once field changed concurrently", ErrInvalidSession)
	case err != nil:
		return nil, storeErr(err)
	}
	return out, nil
}

func changesOnce(cur, next *string) bool {
	return cur != nil && next != nil && *cur != *next
}

// Delete removes a session and its messages.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	return storeErr(repo.DeleteSession(ctx, s.DB, id))
}

// ListMessages returns a page of a session's messages in conversation order.
func (s *SessionService) ListMessages(ctx context.Context, id string, page, pageSize int) ([]domain.Message, int64, error) {
	if _, err := repo.GetSession(ctx, s.DB, id, false); err != nil {
		return nil, 0, storeErr(err)
	}
	offset, limit := s.pageBounds(page, pageSize)
	total, err := repo.CountMessages(ctx, s.DB, id)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, id, offset, limit)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	return items, total, nil
}

// AppendMessage adds a message to a session and bumps its message count.
func (s *SessionService) AppendMessage(ctx context.Context, id, role, content string) (*domain.Message, error) {
	if err := checkMessage(role, content); err != nil {
		return nil, err
	}
	m, err := repo.AppendMessage(ctx, s.DB, id, domain.Message{Role: role, Content: content})
	if err != nil {
		return nil, storeErr(err)
	}
	return m, nil
}
