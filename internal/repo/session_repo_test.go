package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gorm.io/gorm"

	"github.com/exoxegroup/eng-ai/internal/domain"
)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func TestCreateSession_WithEmbeddedMessages(t *testing.T) {
	ctx := context.Background()
	db := newSchemaDB(t)

	s := &domain.Session{
		ID: "eng-coach-1",
		Messages: []domain.Message{
			{Role: domain.RoleAssistant, Content: "greeting"},
			{Role: domain.RoleUser, Content: "Ghana"},
		},
	}
	if err := CreateSession(ctx, db, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.Status != domain.StatusActive || s.StartTime.IsZero() || s.TotalMessages != 2 {
		t.Fatalf("defaults not applied: %+v", s)
	}

	got, err := GetSession(ctx, db, "eng-coach-1", true)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	var contents []string
	for _, m := range got.Messages {
		contents = append(contents, m.Content)
	}
	if diff := cmp.Diff([]string{"greeting", "Ghana"}, contents); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
	if got.Messages[1].Seq != 2 {
		t.Fatalf("expected seq 2, got %d", got.Messages[1].Seq)
	}

	if err := CreateSession(ctx, db, &domain.Session{ID: "eng-coach-1"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestListSessions_NewestFirst(t *testing.T) {
	ctx := context.Background()
	db := newSchemaDB(t)

	base := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		s := &domain.Session{ID: id, StartTime: base.Add(time.Duration(i) * time.Hour)}
		if err := CreateSession(ctx, db, s); err != nil {
			t.Fatalf("CreateSession %s: %v", id, err)
		}
	}
	if _, err := AppendMessage(ctx, db, "new", domain.Message{Role: domain.RoleAssistant, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	out, err := ListSessions(ctx, db, 0, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	var ids []string
	for _, s := range out {
		ids = append(ids, s.ID)
	}
	if diff := cmp.Diff([]string{"new", "mid", "old"}, ids); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if len(out[0].Messages) != 1 {
		t.Fatalf("expected preloaded messages, got %+v", out[0].Messages)
	}

	page, err := ListSessions(ctx, db, 1, 1)
	if err != nil || len(page) != 1 || page[0].ID != "mid" {
		t.Fatalf("page = %+v, %v", page, err)
	}
	if n, err := CountSessions(ctx, db); err != nil || n != 3 {
		t.Fatalf("CountSessions = %d, %v", n, err)
	}
}

func TestUpdateSession_PartialPatch(t *testing.T) {
	ctx := context.Background()
	db := newSchemaDB(t)
	if err := CreateSession(ctx, db, &domain.Session{ID: "s1", CountryOfOrigin: strp("Peru")}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sat := domain.Satisfied
	topics := []string{"beams", "loads"}
	got, err := UpdateSession(ctx, db, "s1", SessionPatch{
		UserSatisfaction: &sat,
		EngagementScore:  intp(3),
		KeyTopics:        &topics,
	})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if got.CountryOfOrigin == nil || *got.CountryOfOrigin != "Peru" {
		t.Fatalf("untouched field changed: %+v", got.CountryOfOrigin)
	}
	if got.UserSatisfaction != domain.Satisfied || got.EngagementScore == nil || *got.EngagementScore != 3 {
		t.Fatalf("patch not applied: %+v", got)
	}
	if diff := cmp.Diff(topics, got.KeyTopics); diff != "" {
		t.Fatalf("key topics (-want +got):\n%s", diff)
	}

	if _, err := UpdateSession(ctx, db, "missing", SessionPatch{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !(SessionPatch{}).Empty() || (SessionPatch{AISolution: strp("x")}).Empty() {
		t.Fatalf("Empty() misreports")
	}
}

// interleave runs stmt inside the next UPDATE's transaction, right before
// gorm issues it, as a concurrent writer committing first would.
func interleave(t *testing.T, db *gorm.DB, stmt string) {
	t.Helper()
	var once sync.Once
	name := "test:interleave:" + t.Name()
	err := db.Callback().Update().Before("gorm:update").Register(name, func(tx *gorm.DB) {
		once.Do(func() {
			if _, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context, stmt); err != nil {
				t.Errorf("interleaved write: %v", err)
			}
		})
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
	t.Cleanup(func() { _ = db.Callback().Update().Remove(name) })
}

func TestUpdateSession_KeepsConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	db := newSchemaDB(t)
	if err := CreateSession(ctx, db, &domain.Session{ID: "s1", TotalMessages: 1}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	interleave(t, db, "UPDATE sessions SET total_messages = total_messages + 1, user_initiated_refinements = user_initiated_refinements + 1 WHERE id = 's1'")
	got, err := UpdateSession(ctx, db, "s1", SessionPatch{AISolution: strp("brace the beam")})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if got.TotalMessages != 2 || got.UserInitiatedRefinements != 1 {
		t.Fatalf("lost counter update: total=%d refinements=%d", got.TotalMessages, got.UserInitiatedRefinements)
	}
	if got.AISolution == nil || *got.AISolution != "brace the beam" {
		t.Fatalf("patch not applied: %+v", got.AISolution)
	}
}

func TestUpdateSession_LosesToTermination(t *testing.T) {
	ctx := context.Background()
	db := newSchemaDB(t)
	if err := CreateSession(ctx, db, &domain.Session{ID: "s1", TotalMessages: 1}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	interleave(t, db, "UPDATE sessions SET total_messages = total_messages + 1, status = 'terminating' WHERE id = 's1'")
	got, err := UpdateSession(ctx, db, "s1", SessionPatch{AISolution: strp("late edit")})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got.Status != domain.StatusTerminating || got.TotalMessages != 2 || got.AISolution != nil {
		t.Fatalf("terminating session was overwritten: status=%s total=%d solution=%v", got.Status, got.TotalMessages, got.AISolution)
	}
}

func TestUpdateSession_WriteOnceGuard(t *testing.T) {
	ctx := context.Background()
	db := newSchemaDB(t)
	if err := CreateSession(ctx, db, &domain.Session{ID: "s1", CountryOfOrigin: strp("Peru")}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := UpdateSession(ctx, db, "s1", SessionPatch{CountryOfOrigin: strp("Chile")}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, err := UpdateSession(ctx, db, "s1", SessionPatch{CountryOfOrigin: strp("Peru"), OriginalPrompt: strp("truss sizing")})
	if err != nil {
		t.Fatalf("same value and first prompt: %v", err)
	}
	if *got.CountryOfOrigin != "Peru" || got.OriginalPrompt == nil || *got.OriginalPrompt != "truss sizing" {
		t.Fatalf("write-once fields: %+v %+v", got.CountryOfOrigin, got.OriginalPrompt)
	}
}

func TestDeleteSession_RemovesMessages(t *testing.T) {
	ctx := context.Background()
	db := newSchemaDB(t)
	if err := CreateSession(ctx, db, &domain.Session{ID: "s1", Messages: []domain.Message{{Role: domain.RoleAssistant, Content: "hi"}}}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := DeleteSession(ctx, db, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if n, _ := CountMessages(ctx, db, "s1"); n != 0 {
		t.Fatalf("expected messages removed, got %d", n)
	}
	if err := DeleteSession(ctx, db, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSetOnce_WritesOnlyFirstValue(t *testing.T) {
	ctx := context.Background()
	db := newSchemaDB(t)
	if err := CreateSession(ctx, db, &domain.Session{ID: "s1"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	ok, err := SetCountryOnce(ctx, db, "s1", "Nigeria")
	if err != nil || !ok {
		t.Fatalf("first SetCountryOnce = %v, %v", ok, err)
	}
	ok, err = SetCountryOnce(ctx, db, "s1", "Chad")
	if err != nil || ok {
		t.Fatalf("second SetCountryOnce = %v, %v", ok, err)
	}
	if ok, _ := SetOriginalPromptOnce(ctx, db, "s1", "bridge"); !ok {
		t.Fatalf("expected first prompt write")
	}
	if ok, _ := SetOriginalPromptOnce(ctx, db, "s1", "tunnel"); ok {
		t.Fatalf("expected second prompt write to be ignored")
	}

	s, _ := GetSession(ctx, db, "s1", false)
	if *s.CountryOfOrigin != "Nigeria" || *s.OriginalPrompt != "bridge" {
		t.Fatalf("write-once violated: %+v", s)
	}
}

func TestAddCounters_IncrementsInSQL(t *testing.T) {
	ctx := context.Background()
	db := newSchemaDB(t)
	if err := CreateSession(ctx, db, &domain.Session{ID: "s1"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := AddCounters(ctx, db, "s1", CounterDelta{UserRefinements: 1, SurveyInteractions: i % 2}); err != nil {
			t.Fatalf("AddCounters: %v", err)
		}
	}
	if err := AddCounters(ctx, db, "s1", CounterDelta{}); err != nil {
		t.Fatalf("zero delta: %v", err)
	}
	s, _ := GetSession(ctx, db, "s1", false)
	if s.UserInitiatedRefinements != 3 || s.SatisfactionSurveyInteractions != 1 || s.AIInitiatedRefinements != 0 {
		t.Fatalf("unexpected counters: %+v", s)
	}
}

func TestClaimTermination_ExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	db := newSchemaDB(t)
	if err := CreateSession(ctx, db, &domain.Session{ID: "s1", CountryOfOrigin: strp("Chile")}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		conflict int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ClaimTermination(ctx, db, "s1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrConflict):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if winners != 1 || conflict != callers-1 {
		t.Fatalf("winners=%d conflicts=%d", winners, conflict)
	}

	if _, err := ClaimTermination(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFinalizeSession_RequiresTerminating(t *testing.T) {
	ctx := context.Background()
	db := newSchemaDB(t)
	if err := CreateSession(ctx, db, &domain.Session{ID: "s1", CountryOfOrigin: strp("Chile")}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	end := time.Now().UTC()
	dur := int64(42)
	s := &domain.Session{
		ID:                       "s1",
		EndTime:                  &end,
		DurationSeconds:          &dur,
		UserSatisfaction:         domain.Unsatisfied,
		IntelligenceScore:        intp(2),
		UserInitiatedRefinements: 4,
		NextSteps:                []string{"prototype"},
	}

	if err := FinalizeSession(ctx, db, s); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for active session, got %v", err)
	}
	if _, err := ClaimTermination(ctx, db, "s1"); err != nil {
		t.Fatalf("ClaimTermination: %v", err)
	}
	if err := FinalizeSession(ctx, db, s); err != nil {
		t.Fatalf("FinalizeSession: %v", err)
	}
	if err := FinalizeSession(ctx, db, s); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on second finalize, got %v", err)
	}

	got, _ := GetSession(ctx, db, "s1", false)
	if got.Status != domain.StatusTerminated || got.EndTime == nil || got.DurationSeconds == nil || *got.DurationSeconds != 42 {
		t.Fatalf("finalize not persisted: %+v", got)
	}
	if got.UserSatisfaction != domain.Unsatisfied || got.UserInitiatedRefinements != 4 || len(got.NextSteps) != 1 {
		t.Fatalf("outcome not persisted: %+v", got)
	}
	if err := FinalizeSession(ctx, db, &domain.Session{ID: "s1"}); err == nil {
		t.Fatalf("expected error without end time")
	}
}

func TestListStaleTerminations(t *testing.T) {
	ctx := context.Background()
	db := newSchemaDB(t)
	for _, id := range []string{"active", "claimed", "done"} {
		if err := CreateSession(ctx, db, &domain.Session{ID: id, CountryOfOrigin: strp("Peru")}); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}
	if _, err := ClaimTermination(ctx, db, "claimed"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := ClaimTermination(ctx, db, "done"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	end := time.Now().UTC()
	if err := FinalizeSession(ctx, db, &domain.Session{ID: "done", EndTime: &end}); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if got, err := ListStaleTerminations(ctx, db, time.Now().Add(-time.Hour)); err != nil || len(got) != 0 {
		t.Fatalf("recent claims must not be stale: %v %v", got, err)
	}
	got, err := ListStaleTerminations(ctx, db, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListStaleTerminations: %v", err)
	}
	if len(got) != 1 || got[0].ID != "claimed" {
		t.Fatalf("stale = %+v", got)
	}
}
