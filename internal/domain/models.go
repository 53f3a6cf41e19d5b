// Package domain defines the persistence models for coaching sessions and
// their messages. These types are mapped with GORM and form the core data
// layer of the coaching backend.
package domain

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Session lifecycle markers persisted alongside the derived phase. A session
// is "active" while the conversation runs, "terminating" while its report is
// being synthesized and "terminated" once EndTime is frozen.
const (
	StatusActive      = "active"
	StatusTerminating = "terminating"
	StatusTerminated  = "terminated"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Satisfaction is the outcome classification of a finished session.
//
// It is stored as a nullable integer (1 = Satisfied, 0 = Unsatisfied,
// NULL = Not provided) and exposed as its text form in JSON.
type Satisfaction string

const (
	Satisfied               Satisfaction = "Satisfied"
	Unsatisfied             Satisfaction = "Unsatisfied"
	SatisfactionNotProvided Satisfaction = "Not provided"
)

// Valid reports whether s is one of the three known classifications.
func (s Satisfaction) Valid() bool {
	switch s {
	case Satisfied, Unsatisfied, SatisfactionNotProvided:
		return true
	}
	return false
}

// Value implements driver.Valuer.
func (s Satisfaction) Value() (driver.Value, error) {
	switch s {
	case Satisfied:
		return int64(1), nil
	case Unsatisfied:
		return int64(0), nil
	default:
		return nil, nil
	}
}

// Scan implements sql.Scanner.
func (s *Satisfaction) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = SatisfactionNotProvided
	case int64:
		*s = satisfactionFromInt(v)
	case int:
		*s = satisfactionFromInt(int64(v))
	case []byte:
		return s.Scan(string(v))
	case string:
		switch v {
		case "1", string(Satisfied):
			*s = Satisfied
		case "0", string(Unsatisfied):
			*s = Unsatisfied
		default:
			*s = SatisfactionNotProvided
		}
	default:
		return fmt.Errorf("domain: cannot scan %T into Satisfaction", src)
	}
	return nil
}

func satisfactionFromInt(v int64) Satisfaction {
	switch v {
	case 1:
		return Satisfied
	case 0:
		return Unsatisfied
	}
	return SatisfactionNotProvided
}

// Session is one coaching conversation plus its research metadata and
// outcome report.
//
// Fields:
//   - ID: generated at start ("eng-coach-<uuid>"), immutable.
//   - StartTime / EndTime: EndTime stays nil until termination and is set once.
//   - Status: persisted lifecycle marker used for compare-and-set termination.
//   - CountryOfOrigin, OriginalPrompt: write-once.
//   - Accumulators: message and refinement counters, updated with SQL increments.
//   - Outcome fields: populated at termination by the report synthesizer.
type Session struct {
	ID        string     `json:"session_id" gorm:"type:varchar(64);primaryKey"`
	StartTime time.Time  `json:"start_time" gorm:"not null;index:idx_sessions_start"`
	EndTime   *time.Time `json:"end_time"   gorm:"index"`
	Status    string     `json:"status"     gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','terminating','terminated')"`

	CountryOfOrigin *string `json:"country_of_origin" gorm:"type:varchar(128);index"`
	UserLocation    *string `json:"user_location"     gorm:"type:varchar(255)"`
	OriginalPrompt  *string `json:"original_prompt"   gorm:"type:text"`
	AIRefinedPrompt *string `json:"ai_refined_prompt" gorm:"type:text"`
	AISolution      *string `json:"ai_solution"       gorm:"type:text"`

	TotalMessages                  int `json:"total_messages"                   gorm:"not null;default:0"`
	AIInitiatedRefinements         int `json:"ai_initiated_refinements"         gorm:"not null;default:0"`
	UserInitiatedRefinements       int `json:"user_initiated_refinements"       gorm:"not null;default:0"`
	SatisfactionSurveyInteractions int `json:"satisfaction_survey_interactions" gorm:"not null;default:0"`

	UserSatisfaction      Satisfaction `json:"user_satisfaction"      gorm:"type:integer"`
	EngagementScore       *int         `json:"engagement_score"       gorm:"check:engagement_score IN (1,2,3)"`
	EngagementRationale   *string      `json:"engagement_rationale"   gorm:"type:text"`
	IntelligenceScore     *int         `json:"intelligence_score"     gorm:"check:intelligence_score IN (1,2,3)"`
	IntelligenceRationale *string      `json:"intelligence_rationale" gorm:"type:text"`
	KeyTopics             []string     `json:"key_topics"             gorm:"serializer:json;type:text"`
	SkillAreas            []string     `json:"skill_areas"            gorm:"serializer:json;type:text"`
	NextSteps             []string     `json:"next_steps"             gorm:"serializer:json;type:text"`
	DurationSeconds       *int64       `json:"duration_seconds"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages are owned by the session and removed with it.
	Messages []Message `json:"messages,omitempty" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// Started reports whether the session captured a country. Sessions without
// one are never finalized.
func (s *Session) Started() bool {
	return s != nil && s.CountryOfOrigin != nil && *s.CountryOfOrigin != ""
}

// Terminated reports whether EndTime has been frozen.
func (s *Session) Terminated() bool { return s != nil && s.EndTime != nil }

// Message is a single turn within a session. Ordering is the creation
// order, recorded as a per-session sequence number.
type Message struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	SessionID string    `json:"session_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_session_msgs,priority:1"`
	Seq       int       `json:"seq"        gorm:"not null;uniqueIndex:idx_session_msgs,priority:2"`
	Role      string    `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content   string    `json:"content"    gorm:"type:text;not null"`
	CreatedAt time.Time `json:"timestamp"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
