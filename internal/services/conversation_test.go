package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/exoxegroup/eng-ai/internal/domain"
	"github.com/exoxegroup/eng-ai/internal/oracle"
	"github.com/exoxegroup/eng-ai/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("svc_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// stubOracle scripts the three oracle calls and records what it was given.
type stubOracle struct {
	country func(ctx context.Context, text string) (oracle.CountryVerdict, error)
	stream  func(ctx context.Context, history []domain.Message, onChunk func(string) error) error
	report  func(ctx context.Context, req oracle.ReportRequest) (*oracle.ReportDraft, error)

	mu          sync.Mutex
	streamCalls int
	lastHistory []domain.Message
	reportCalls atomic.Int32
	lastReport  oracle.ReportRequest
}

func (s *stubOracle) ValidateCountry(ctx context.Context, text string) (oracle.CountryVerdict, error) {
	if s.country == nil {
		return oracle.CountryVerdict{Valid: true, Name: text}, nil
	}
	return s.country(ctx, text)
}

func (s *stubOracle) StreamCoaching(ctx context.Context, history []domain.Message, onChunk func(string) error) error {
	s.mu.Lock()
	s.streamCalls++
	s.lastHistory = append([]domain.Message(nil), history...)
	s.mu.Unlock()
	if s.stream == nil {
		for _, c := range []string{"Here is a refined prompt. ", domain.SatisfactionQuestion} {
			if err := onChunk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return s.stream(ctx, history, onChunk)
}

func (s *stubOracle) ExtractReport(ctx context.Context, req oracle.ReportRequest) (*oracle.ReportDraft, error) {
	s.reportCalls.Add(1)
	s.mu.Lock()
	s.lastReport = req
	s.mu.Unlock()
	if s.report == nil {
		return goodDraft(), nil
	}
	return s.report(ctx, req)
}

func goodDraft() *oracle.ReportDraft {
	return &oracle.ReportDraft{
		UserSatisfaction:               "Satisfied",
		AIRefinedPrompt:                "Design a 20 m steel truss footbridge.",
		AISolution:                     "Use a Warren truss.",
		EngagementScore:                2,
		EngagementRationale:            "Answered every question.",
		IntelligenceScore:              3,
		IntelligenceRationale:          "Precise constraints.",
		AIInitiatedRefinements:         1,
		UserInitiatedRefinements:       99,
		SatisfactionSurveyInteractions: 99,
		KeyTopics:                      []string{"Truss design"},
	}
}

type stubLocator struct {
	loc string
	err error
}

func (s stubLocator) Locate(context.Context, string) (string, error) { return s.loc, s.err }

// flakyStore fails FinalizeSession while finalizeErr is set.
type flakyStore struct {
	SessionStore
	finalizeErr error
}

func (f *flakyStore) FinalizeSession(ctx context.Context, s *domain.Session) error {
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	return f.SessionStore.FinalizeSession(ctx, s)
}

func newConv(t *testing.T, o *stubOracle) (*ConversationService, *gorm.DB) {
	t.Helper()
	db := newSvcDB(t)
	svc := NewConversationService(NewSessionStore(db), o)
	svc.OracleTimeout = 5 * time.Second
	return svc, db
}

// startCoaching creates a session and answers the country question.
func startCoaching(t *testing.T, svc *ConversationService, country string) *domain.Session {
	t.Helper()
	ctx := context.Background()
	s, err := svc.Start(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := svc.Turn(ctx, s.ID, country, nil); err != nil {
		t.Fatalf("country turn: %v", err)
	}
	return s
}

func mustSession(t *testing.T, db *gorm.DB, id string) *domain.Session {
	t.Helper()
	s, err := repo.GetSession(context.Background(), db, id, true)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	return s
}

// ---------- Start ----------

func TestStart_GreetingAndLocation(t *testing.T) {
	svc, db := newConv(t, &stubOracle{})
	svc.Locator = stubLocator{loc: "Toronto, Ontario, Canada"}

	s, err := svc.Start(context.Background(), "203.0.113.7")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.HasPrefix(s.ID, SessionIDPrefix) {
		t.Fatalf("unexpected id %q", s.ID)
	}
	got := mustSession(t, db, s.ID)
	if got.TotalMessages != 1 || len(got.Messages) != 1 {
		t.Fatalf("expected only the greeting, got total=%d msgs=%d", got.TotalMessages, len(got.Messages))
	}
	if m := got.Messages[0]; m.Role != domain.RoleAssistant || m.Content != domain.GreetingText {
		t.Fatalf("unexpected first message: %+v", m)
	}
	if got.UserLocation == nil || *got.UserLocation != "Toronto, Ontario, Canada" {
		t.Fatalf("unexpected location: %v", got.UserLocation)
	}
	if domain.DerivePhase(got) != domain.PhaseAwaitingCountry {
		t.Fatalf("unexpected phase %s", domain.DerivePhase(got))
	}
}

func TestStart_LocationFailureUsesSentinel(t *testing.T) {
	svc, db := newConv(t, &stubOracle{})
	svc.Locator = stubLocator{err: errors.New("timeout")}

	s, err := svc.Start(context.Background(), "203.0.113.7")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := mustSession(t, db, s.ID)
	if got.UserLocation == nil || *got.UserLocation != domain.LocationNotAvailable {
		t.Fatalf("expected %q, got %v", domain.LocationNotAvailable, got.UserLocation)
	}
}

// ---------- country phase ----------

func TestTurn_ValidCountryAdvances(t *testing.T) {
	o := &stubOracle{country: func(_ context.Context, text string) (oracle.CountryVerdict, error) {
		if text != "Canada" {
			t.Errorf("oracle got %q", text)
		}
		return oracle.CountryVerdict{Valid: true, Name: "Canada"}, nil
	}}
	svc, db := newConv(t, o)
	ctx := context.Background()
	s, _ := svc.Start(ctx, "")

	res, err := svc.Turn(ctx, s.ID, "  Canada ", nil)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Reply == nil || res.Reply.Content != domain.ProblemPromptText {
		t.Fatalf("expected problem prompt, got %+v", res.Reply)
	}
	if res.Phase != domain.PhaseAwaitingProblem {
		t.Fatalf("expected awaiting_problem, got %s", res.Phase)
	}
	got := mustSession(t, db, s.ID)
	if got.CountryOfOrigin == nil || *got.CountryOfOrigin != "Canada" {
		t.Fatalf("country not captured: %v", got.CountryOfOrigin)
	}
	if got.TotalMessages != 3 || len(got.Messages) != 3 {
		t.Fatalf("expected 3 messages, got total=%d len=%d", got.TotalMessages, len(got.Messages))
	}
	if got.Messages[1].Role != domain.RoleUser || got.Messages[1].Content != "Canada" {
		t.Fatalf("unexpected user message %+v", got.Messages[1])
	}
}

func TestTurn_InvalidOrFailedCountryReprompts(t *testing.T) {
	cases := []struct {
		name    string
		verdict oracle.CountryVerdict
		err     error
	}{
		{"invalid", oracle.CountryVerdict{Valid: false}, nil},
		{"oracle down", oracle.CountryVerdict{}, oracle.ErrUnavailable},
		{"valid without name", oracle.CountryVerdict{Valid: true}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := &stubOracle{country: func(context.Context, string) (oracle.CountryVerdict, error) {
				return tc.verdict, tc.err
			}}
			svc, db := newConv(t, o)
			ctx := context.Background()
			s, _ := svc.Start(ctx, "")

			res, err := svc.Turn(ctx, s.ID, "Narnia", nil)
			if err != nil {
				t.Fatalf("Turn: %v", err)
			}
			if res.Reply == nil || res.Reply.Content != domain.CountryRepromptText {
				t.Fatalf("expected re-prompt, got %+v", res.Reply)
			}
			if res.Phase != domain.PhaseAwaitingCountry {
				t.Fatalf("expected awaiting_country, got %s", res.Phase)
			}
			got := mustSession(t, db, s.ID)
			if got.CountryOfOrigin != nil {
				t.Fatalf("country must stay nil, got %q", *got.CountryOfOrigin)
			}
			if got.TotalMessages != 3 {
				t.Fatalf("expected 3 messages, got %d", got.TotalMessages)
			}
		})
	}
}

// ---------- coaching phase ----------

func TestTurn_CountersAndOriginalPrompt(t *testing.T) {
	o := &stubOracle{}
	svc, db := newConv(t, o)
	ctx := context.Background()
	s := startCoaching(t, svc, "Kenya")

	first := "I need to size a water pump for a village."
	turns := []string{first, "The head is 30 metres.", "Flow is 2 litres per second."}
	for _, text := range turns {
		res, err := svc.Turn(ctx, s.ID, text, nil)
		if err != nil {
			t.Fatalf("Turn(%q): %v", text, err)
		}
		if res.Phase != domain.PhaseCoaching {
			t.Fatalf("expected coaching, got %s", res.Phase)
		}
		if res.Session.OriginalPrompt == nil || *res.Session.OriginalPrompt != first {
			t.Fatalf("original prompt changed: %v", res.Session.OriginalPrompt)
		}
	}

	got := mustSession(t, db, s.ID)
	n := 1 + len(turns) // country turn plus coaching turns
	if got.TotalMessages != 1+2*n || len(got.Messages) != 1+2*n {
		t.Fatalf("expected %d messages, got total=%d len=%d", 1+2*n, got.TotalMessages, len(got.Messages))
	}
	if got.UserInitiatedRefinements != 2 {
		t.Fatalf("expected 2 user refinements, got %d", got.UserInitiatedRefinements)
	}
	// Every coach reply ends with the survey question; the replies to the
	// first two of them count.
	if got.SatisfactionSurveyInteractions != 2 {
		t.Fatalf("expected 2 survey interactions, got %d", got.SatisfactionSurveyInteractions)
	}
	for i, m := range got.Messages {
		if m.Seq != i+1 {
			t.Fatalf("message %d has seq %d", i, m.Seq)
		}
	}

	o.mu.Lock()
	hist := o.lastHistory
	o.mu.Unlock()
	if last := hist[len(hist)-1]; last.Role != domain.RoleUser || last.Content != turns[2] {
		t.Fatalf("coach must see the new user message last, got %+v", last)
	}
}

func TestTurn_StreamsPartialsAndSurvivesSinkFailure(t *testing.T) {
	o := &stubOracle{stream: func(_ context.Context, _ []domain.Message, onChunk func(string) error) error {
		for _, c := range []string{"a", "b", "c"} {
			if err := onChunk(c); err != nil {
				return err
			}
		}
		return nil
	}}
	svc, _ := newConv(t, o)
	s := startCoaching(t, svc, "Peru")

	var partials []string
	res, err := svc.Turn(context.Background(), s.ID, "Help me with a beam.", func(p string) error {
		partials = append(partials, p)
		if len(partials) == 2 {
			return errors.New("client gone")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if strings.Join(partials, "|") != "a|ab" {
		t.Fatalf("sink must detach after its first error, got %v", partials)
	}
	if res.Reply == nil || res.Reply.Content != "abc" {
		t.Fatalf("reply must hold the whole stream, got %+v", res.Reply)
	}
}

func TestTurn_CanceledCallerStillCompletesTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := &stubOracle{stream: func(octx context.Context, _ []domain.Message, onChunk func(string) error) error {
		cancel()
		if octx.Err() != nil {
			return octx.Err()
		}
		return onChunk("still here")
	}}
	svc, db := newConv(t, o)
	s := startCoaching(t, svc, "Peru")

	var calls int
	res, err := svc.Turn(ctx, s.ID, "Help me with a beam.", func(string) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if calls != 0 {
		t.Fatalf("sink must not be called after the caller left, got %d calls", calls)
	}
	if res.Reply.Content != "still here" {
		t.Fatalf("unexpected reply %q", res.Reply.Content)
	}
	if got := mustSession(t, db, s.ID); got.TotalMessages != 5 {
		t.Fatalf("expected 5 messages, got %d", got.TotalMessages)
	}
}

func TestTurn_StreamFailureAppendsApology(t *testing.T) {
	fail := false
	o := &stubOracle{stream: func(_ context.Context, _ []domain.Message, onChunk func(string) error) error {
		if fail {
			_ = onChunk("partial ")
			return fmt.Errorf("%w: reset", oracle.ErrUnavailable)
		}
		return onChunk("ok " + domain.SatisfactionQuestion)
	}}
	svc, db := newConv(t, o)
	ctx := context.Background()
	s := startCoaching(t, svc, "Peru")

	if _, err := svc.Turn(ctx, s.ID, "Design a beam.", nil); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	fail = true
	res, err := svc.Turn(ctx, s.ID, "It spans 6 m.", nil)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Reply == nil || res.Reply.Content != domain.ApologyText {
		t.Fatalf("expected apology, got %+v", res.Reply)
	}

	got := mustSession(t, db, s.ID)
	if got.TotalMessages != 7 {
		t.Fatalf("expected 7 messages, got %d", got.TotalMessages)
	}
	if got.UserInitiatedRefinements != 0 {
		t.Fatalf("failed turn must not count a refinement, got %d", got.UserInitiatedRefinements)
	}
}

func TestTurn_EmptyStreamIsApology(t *testing.T) {
	o := &stubOracle{stream: func(context.Context, []domain.Message, func(string) error) error { return nil }}
	svc, _ := newConv(t, o)
	s := startCoaching(t, svc, "Peru")

	res, err := svc.Turn(context.Background(), s.ID, "Design a beam.", nil)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Reply.Content != domain.ApologyText {
		t.Fatalf("expected apology, got %q", res.Reply.Content)
	}
}

func TestTurn_InputErrors(t *testing.T) {
	svc, _ := newConv(t, &stubOracle{})
	svc.MaxMessageRunes = 5
	ctx := context.Background()
	s, _ := svc.Start(ctx, "")

	if _, err := svc.Turn(ctx, s.ID, "   ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := svc.Turn(ctx, s.ID, "abcdef", nil); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}
	if _, err := svc.Turn(ctx, "eng-coach-missing", "Chile", nil); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

// ---------- termination ----------

func TestTurn_EndKeywordTerminatesSatisfied(t *testing.T) {
	o := &stubOracle{}
	svc, db := newConv(t, o)
	ctx := context.Background()
	s := startCoaching(t, svc, "Chile")
	if _, err := svc.Turn(ctx, s.ID, "Design a footbridge.", nil); err != nil {
		t.Fatalf("Turn: %v", err)
	}

	res, err := svc.Turn(ctx, s.ID, "Thanks, END SESSION please", nil)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Reply != nil {
		t.Fatalf("terminating turn has no reply, got %+v", res.Reply)
	}
	if res.Termination == nil || !res.Termination.Synced || !res.Termination.ReportGenerated {
		t.Fatalf("unexpected termination %+v", res.Termination)
	}
	if res.Phase != domain.PhaseTerminated {
		t.Fatalf("expected terminated, got %s", res.Phase)
	}
	o.mu.Lock()
	streams, req := o.streamCalls, o.lastReport
	o.mu.Unlock()
	if streams != 1 {
		t.Fatalf("no coach call for the terminating turn, got %d calls", streams)
	}
	if req.Satisfaction != domain.Satisfied {
		t.Fatalf("expected Satisfied hint, got %q", req.Satisfaction)
	}
	if len(req.Transcript) != 6 || req.Transcript[5].Content != "Thanks, END SESSION please" {
		t.Fatalf("report must see the full transcript, got %d messages", len(req.Transcript))
	}
	if req.OriginalPrompt != "Design a footbridge." || req.UserRefinements != 1 || req.SurveyInteractions != 1 {
		t.Fatalf("unexpected report request %+v", req)
	}

	got := mustSession(t, db, s.ID)
	if got.EndTime == nil || got.Status != domain.StatusTerminated || !domain.PhaseMatchesStatus(got) {
		t.Fatalf("session not finalized: %+v", got)
	}
	if got.UserSatisfaction != domain.Satisfied || got.EngagementScore == nil || *got.EngagementScore != 2 {
		t.Fatalf("report not merged: %+v", got)
	}
	if got.UserInitiatedRefinements != 1 || got.SatisfactionSurveyInteractions != 1 {
		t.Fatalf("counters must be the tracked ones, got %d/%d", got.UserInitiatedRefinements, got.SatisfactionSurveyInteractions)
	}
	if got.TotalMessages != 6 {
		t.Fatalf("expected 6 messages, got %d", got.TotalMessages)
	}

	if _, err := svc.Turn(ctx, s.ID, "hello again", nil); !errors.Is(err, ErrSessionTerminated) {
		t.Fatalf("expected ErrSessionTerminated, got %v", err)
	}
}

func TestTerminate_ReportFailureStillPersists(t *testing.T) {
	o := &stubOracle{report: func(context.Context, oracle.ReportRequest) (*oracle.ReportDraft, error) {
		return nil, oracle.ErrUnavailable
	}}
	svc, db := newConv(t, o)
	s := startCoaching(t, svc, "Chile")

	term, err := svc.Terminate(context.Background(), s.ID, domain.SatisfactionNotProvided)
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if term.ReportGenerated || !term.Synced {
		t.Fatalf("unexpected termination %+v", term)
	}
	got := mustSession(t, db, s.ID)
	if got.EndTime == nil || got.Status != domain.StatusTerminated {
		t.Fatalf("session must be finalized, got %+v", got)
	}
	if got.UserSatisfaction != domain.SatisfactionNotProvided || got.EngagementScore != nil || got.IntelligenceScore != nil {
		t.Fatalf("outcome fields must stay empty: %+v", got)
	}
	if got.DurationSeconds == nil {
		t.Fatalf("duration must be recorded")
	}
}

func TestTerminate_NotStartedIsNoop(t *testing.T) {
	o := &stubOracle{}
	svc, db := newConv(t, o)
	ctx := context.Background()
	s, _ := svc.Start(ctx, "")

	if _, err := svc.Terminate(ctx, s.ID, domain.SatisfactionNotProvided); !errors.Is(err, ErrSessionNotStarted) {
		t.Fatalf("expected ErrSessionNotStarted, got %v", err)
	}
	got := mustSession(t, db, s.ID)
	if got.EndTime != nil || got.Status != domain.StatusActive {
		t.Fatalf("nothing may be written: %+v", got)
	}
	if o.reportCalls.Load() != 0 {
		t.Fatalf("report must not run")
	}
}

func TestTerminate_ConcurrentTriggersProduceOneReport(t *testing.T) {
	o := &stubOracle{}
	db := newSvcDB(t)
	// Two services model two processes sharing the store.
	a := NewConversationService(NewSessionStore(db), o)
	b := NewConversationService(NewSessionStore(db), o)
	s := startCoaching(t, a, "Chile")

	const callers = 6
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		losers  atomic.Int32
	)
	for i := 0; i < callers; i++ {
		svc := a
		if i%2 == 1 {
			svc = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			term, err := svc.Terminate(context.Background(), s.ID, domain.SatisfactionNotProvided)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, ErrAlreadyTerminated):
				if term == nil || term.Session == nil {
					t.Errorf("loser must see the current record")
				}
				losers.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 || losers.Load() != callers-1 {
		t.Fatalf("winners=%d losers=%d", winners.Load(), losers.Load())
	}
	if n := o.reportCalls.Load(); n != 1 {
		t.Fatalf("expected one report, got %d", n)
	}
}

func TestTerminate_StoreFailureMirrorsThenResyncs(t *testing.T) {
	o := &stubOracle{}
	svc, db := newConv(t, o)
	mirror, err := repo.OpenMirror(filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatalf("OpenMirror: %v", err)
	}
	t.Cleanup(func() { _ = mirror.Close() })
	store := &flakyStore{SessionStore: svc.Store, finalizeErr: driver.ErrBadConn}
	svc.Store = store
	svc.Mirror = mirror

	s := startCoaching(t, svc, "Chile")
	term, err := svc.Terminate(context.Background(), s.ID, domain.SatisfactionNotProvided)
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if term.Synced || term.Session.EndTime == nil || term.Session.Status != domain.StatusTerminated {
		t.Fatalf("expected an unsynced finished record, got %+v", term)
	}
	recs, _ := mirror.List(context.Background())
	if len(recs) != 1 || recs[0].SessionID != s.ID {
		t.Fatalf("expected one mirror entry, got %+v", recs)
	}
	if got := mustSession(t, db, s.ID); got.EndTime != nil {
		t.Fatalf("store must not hold an end time yet")
	}

	store.finalizeErr = nil
	n, err := svc.ResyncMirror(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("ResyncMirror: n=%d err=%v", n, err)
	}
	got := mustSession(t, db, s.ID)
	if got.EndTime == nil || got.Status != domain.StatusTerminated || got.EngagementScore == nil {
		t.Fatalf("store must hold the finished session, got %+v", got)
	}
	if recs, _ := mirror.List(context.Background()); len(recs) != 0 {
		t.Fatalf("mirror must be empty after resync, got %d", len(recs))
	}
}

func TestTerminate_AfterFinishReturnsRecord(t *testing.T) {
	svc, _ := newConv(t, &stubOracle{})
	ctx := context.Background()
	s := startCoaching(t, svc, "Chile")
	if _, err := svc.Terminate(ctx, s.ID, domain.SatisfactionNotProvided); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	term, err := svc.Terminate(ctx, s.ID, domain.SatisfactionNotProvided)
	if !errors.Is(err, ErrAlreadyTerminated) || term == nil || term.Session.EndTime == nil {
		t.Fatalf("expected ErrAlreadyTerminated with record, got %+v %v", term, err)
	}
}

func TestRecoverTerminations_FinishesInterruptedClaims(t *testing.T) {
	o := &stubOracle{}
	svc, db := newConv(t, o)
	ctx := context.Background()
	s := startCoaching(t, svc, "Chile")

	// a process claims termination and stops before finalizing
	claimed, err := repo.ClaimTermination(ctx, db, s.ID)
	if err != nil {
		t.Fatalf("ClaimTermination: %v", err)
	}

	restarted := NewConversationService(NewSessionStore(db), o)
	restarted.OracleTimeout = svc.OracleTimeout
	if n, err := restarted.RecoverTerminations(ctx); err != nil || n != 0 {
		t.Fatalf("fresh claim must be left alone: n=%d err=%v", n, err)
	}

	restarted.Now = func() time.Time { return time.Now().Add(3 * svc.OracleTimeout) }
	n, err := restarted.RecoverTerminations(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RecoverTerminations: n=%d err=%v", n, err)
	}

	got := mustSession(t, db, s.ID)
	if got.Status != domain.StatusTerminated || got.EndTime == nil || got.DurationSeconds == nil {
		t.Fatalf("session not finished: %+v", got)
	}
	if !got.EndTime.Equal(claimed.UpdatedAt) {
		t.Fatalf("end time %v, want claim time %v", got.EndTime, claimed.UpdatedAt)
	}
	if got.UserSatisfaction != domain.SatisfactionNotProvided || got.EngagementScore != nil {
		t.Fatalf("recovery must keep only pre-synthesis fields: %+v", got)
	}
	if n := o.reportCalls.Load(); n != 0 {
		t.Fatalf("recovery must not call the oracle, got %d reports", n)
	}

	term, err := restarted.Terminate(ctx, s.ID, domain.SatisfactionNotProvided)
	if !errors.Is(err, ErrAlreadyTerminated) || term.Session.EndTime == nil {
		t.Fatalf("expected finished record, got %+v %v", term, err)
	}
	if n, _ := restarted.RecoverTerminations(ctx); n != 0 {
		t.Fatalf("second pass recovered %d", n)
	}
}
