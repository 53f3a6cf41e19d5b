package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/exoxegroup/eng-ai/internal/domain"
)

// CreateSession inserts a session together with any embedded messages.
// Embedded messages are numbered in slice order and TotalMessages is raised
// to at least their count.
func CreateSession(ctx context.Context, db *gorm.DB, s *domain.Session) error {
	now := time.Now().UTC()
	if s.StartTime.IsZero() {
		s.StartTime = now
	}
	if s.Status == "" {
		s.Status = domain.StatusActive
	}
	for i := range s.Messages {
		m := &s.Messages[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.SessionID = s.ID
		m.Seq = i + 1
	}
	if s.TotalMessages < len(s.Messages) {
		s.TotalMessages = len(s.Messages)
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetSession fetches a session by ID, optionally with its messages in
// conversation order.
func GetSession(ctx context.Context, db *gorm.DB, id string, withMessages bool) (*domain.Session, error) {
	var s domain.Session
	q := db.WithContext(ctx)
	if withMessages {
		q = q.Preload("Messages", orderedMessages)
	}
	if err := q.Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CountSessions returns the number of stored sessions.
func CountSessions(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Session{}).Count(&total).Error
	return total, err
}

// ListSessions returns sessions newest-first by start time, each with its
// messages in ascending order. limit <= 0 means no limit.
func ListSessions(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Session, error) {
	var out []domain.Session
	q := db.WithContext(ctx).
		Preload("Messages", orderedMessages).
		Order("start_time DESC, id ASC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func orderedMessages(db *gorm.DB) *gorm.DB {
	return db.Order("seq ASC, created_at ASC")
}

// SessionPatch is a partial update. Nil fields are left untouched.
type SessionPatch struct {
	CountryOfOrigin       *string
	UserLocation          *string
	OriginalPrompt        *string
	AIRefinedPrompt       *string
	AISolution            *string
	UserSatisfaction      *domain.Satisfaction
	EngagementScore       *int
	EngagementRationale   *string
	IntelligenceScore     *int
	IntelligenceRationale *string
	KeyTopics             *[]string
	SkillAreas            *[]string
	NextSteps             *[]string
}

// Empty reports whether the patch carries no changes.
func (p SessionPatch) Empty() bool {
	return p == SessionPatch{}
}

// UpdateSession applies a partial patch to an active session and returns
// the stored record. Only the patched columns are written, so concurrent
// counter increments and status changes survive. Write-once columns match
// only while unset or equal to the patched value. Unknown IDs yield
// ErrNotFound; a session that is no longer active or whose write-once
// column already holds another value yields ErrConflict.
func UpdateSession(ctx context.Context, db *gorm.DB, id string, p SessionPatch) (*domain.Session, error) {
	vals, cols := p.columns()
	vals.UpdatedAt = time.Now().UTC()
	cols = append(cols, "updated_at")

	q := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND status = ?", id, domain.StatusActive)
	if p.CountryOfOrigin != nil {
		q = q.Where("(country_of_origin IS NULL OR country_of_origin = ?)", *p.CountryOfOrigin)
	}
	if p.OriginalPrompt != nil {
		q = q.Where("(original_prompt IS NULL OR original_prompt = ?)", *p.OriginalPrompt)
	}
	res := q.Select(cols).Updates(&vals)
	if res.Error != nil {
		return nil, res.Error
	}
	cur, err := GetSession(ctx, db, id, true)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return cur, ErrConflict
	}
	return cur, nil
}

// columns copies the non-nil patch fields into a Session and names the
// columns they map to.
func (p SessionPatch) columns() (domain.Session, []string) {
	var s domain.Session
	var cols []string
	set := func(col string, ok bool, apply func()) {
		if ok {
			apply()
			cols = append(cols, col)
		}
	}
	set("country_of_origin", p.CountryOfOrigin != nil, func() { s.CountryOfOrigin = p.CountryOfOrigin })
	set("user_location", p.UserLocation != nil, func() { s.UserLocation = p.UserLocation })
	set("original_prompt", p.OriginalPrompt != nil, func() { s.OriginalPrompt = p.OriginalPrompt })
	set("ai_refined_prompt", p.AIRefinedPrompt != nil, func() { s.AIRefinedPrompt = p.AIRefinedPrompt })
	set("ai_solution", p.AISolution != nil, func() { s.AISolution = p.AISolution })
	set("user_satisfaction", p.UserSatisfaction != nil, func() { s.UserSatisfaction = *p.UserSatisfaction })
	set("engagement_score", p.EngagementScore != nil, func() { s.EngagementScore = p.EngagementScore })
	set("engagement_rationale", p.EngagementRationale != nil, func() { s.EngagementRationale = p.EngagementRationale })
	set("intelligence_score", p.IntelligenceScore != nil, func() { s.IntelligenceScore = p.IntelligenceScore })
	set("intelligence_rationale", p.IntelligenceRationale != nil, func() { s.IntelligenceRationale = p.IntelligenceRationale })
	set("key_topics", p.KeyTopics != nil, func() { s.KeyTopics = *p.KeyTopics })
	set("skill_areas", p.SkillAreas != nil, func() { s.SkillAreas = *p.SkillAreas })
	set("next_steps", p.NextSteps != nil, func() { s.NextSteps = *p.NextSteps })
	return s, cols
}

// DeleteSession removes a session and everything it owns.
func DeleteSession(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Session{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetCountryOnce records the country of an active session that has none yet.
// It reports false when the column was already set.
func SetCountryOnce(ctx context.Context, db *gorm.DB, id, country string) (bool, error) {
	return setOnce(ctx, db, id, "country_of_origin", country)
}

// SetOriginalPromptOnce records the first problem statement of an active
// session. It reports false when the column was already set.
func SetOriginalPromptOnce(ctx context.Context, db *gorm.DB, id, prompt string) (bool, error) {
	return setOnce(ctx, db, id, "original_prompt", prompt)
}

func setOnce(ctx context.Context, db *gorm.DB, id, column, value string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND status = ? AND "+column+" IS NULL", id, domain.StatusActive).
		Updates(map[string]any{column: value, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CounterDelta holds increments applied to the refinement accumulators.
type CounterDelta struct {
	UserRefinements    int
	SurveyInteractions int
}

// Zero reports whether the delta changes nothing.
func (d CounterDelta) Zero() bool { return d == CounterDelta{} }

// AddCounters increments the accumulators of an active session in SQL.
func AddCounters(ctx context.Context, db *gorm.DB, id string, d CounterDelta) error {
	if d.Zero() {
		return nil
	}
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND status = ?", id, domain.StatusActive).
		Updates(map[string]any{
			"user_initiated_refinements":       gorm.Expr("user_initiated_refinements + ?", d.UserRefinements),
			"satisfaction_survey_interactions": gorm.Expr("satisfaction_survey_interactions + ?", d.SurveyInteractions),
			"updated_at":                       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// ClaimTermination moves an active session to terminating. Exactly one
// caller wins; the others get ErrConflict together with the current record.
// Unknown IDs yield ErrNotFound.
func ClaimTermination(ctx context.Context, db *gorm.DB, id string) (*domain.Session, error) {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND status = ?", id, domain.StatusActive).
		Updates(map[string]any{"status": domain.StatusTerminating, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, res.Error
	}
	cur, err := GetSession(ctx, db, id, true)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return cur, ErrConflict
	}
	return cur, nil
}

// ListStaleTerminations returns sessions claimed for termination whose
// claim was last touched before the cutoff, oldest first.
func ListStaleTerminations(ctx context.Context, db *gorm.DB, before time.Time) ([]domain.Session, error) {
	var out []domain.Session
	err := db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.StatusTerminating, before.UTC()).
		Order("updated_at ASC").
		Find(&out).Error
	return out, err
}

// FinalizeSession writes the end time and outcome of a terminating session
// and marks it terminated. A session in any other state yields ErrConflict.
func FinalizeSession(ctx context.Context, db *gorm.DB, s *domain.Session) error {
	if s.EndTime == nil {
		return errors.New("repo: finalize without end time")
	}
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND status = ?", s.ID, domain.StatusTerminating).
		Select(
			"status", "end_time", "duration_seconds",
			"ai_refined_prompt", "ai_solution", "user_satisfaction",
			"engagement_score", "engagement_rationale",
			"intelligence_score", "intelligence_rationale",
			"ai_initiated_refinements", "user_initiated_refinements", "satisfaction_survey_interactions",
			"key_topics", "skill_areas", "next_steps", "updated_at",
		).
		Updates(&domain.Session{
			Status:                         domain.StatusTerminated,
			EndTime:                        s.EndTime,
			DurationSeconds:                s.DurationSeconds,
			AIRefinedPrompt:                s.AIRefinedPrompt,
			AISolution:                     s.AISolution,
			UserSatisfaction:               s.UserSatisfaction,
			EngagementScore:                s.EngagementScore,
			EngagementRationale:            s.EngagementRationale,
			IntelligenceScore:              s.IntelligenceScore,
			IntelligenceRationale:          s.IntelligenceRationale,
			AIInitiatedRefinements:         s.AIInitiatedRefinements,
			UserInitiatedRefinements:       s.UserInitiatedRefinements,
			SatisfactionSurveyInteractions: s.SatisfactionSurveyInteractions,
			KeyTopics:                      s.KeyTopics,
			SkillAreas:                     s.SkillAreas,
			NextSteps:                      s.NextSteps,
			UpdatedAt:                      time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	s.Status = domain.StatusTerminated
	return nil
}
