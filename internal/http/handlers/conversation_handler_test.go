package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/exoxegroup/eng-ai/internal/domain"
	"github.com/exoxegroup/eng-ai/internal/repo"
	"github.com/exoxegroup/eng-ai/internal/services"
)

func Test_sanitizeContent(t *testing.T) {
	got := sanitizeContent("  line1\r\n\r\n\r\n\r\nline2\rline3  ")
	if want := "line1\n\nline2\nline3"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if sanitizeContent(" \r\n\t ") != "" {
		t.Fatalf("whitespace-only must sanitize to empty")
	}
}

func TestStartConversation(t *testing.T) {
	var gotIP string
	h := New(Deps{Conversations: stubConversations{
		start: func(_ context.Context, ip string) (*domain.Session, error) {
			gotIP = ip
			return &domain.Session{
				ID:       services.SessionIDPrefix + "abc",
				Status:   domain.StatusActive,
				Messages: []domain.Message{{Role: domain.RoleAssistant, Content: "Hello"}},
			}, nil
		},
	}})
	r := newRouter(h)

	w := do(r, http.MethodPost, "/conversations", nil, map[string]string{"X-Forwarded-For": "203.0.113.7"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var s domain.Session
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.HasPrefix(s.ID, services.SessionIDPrefix) || len(s.Messages) != 1 {
		t.Fatalf("unexpected session %+v", s)
	}
	if gotIP == "" {
		t.Fatalf("client IP not passed")
	}
}

func TestStartConversation_StoreDown(t *testing.T) {
	h := New(Deps{Conversations: stubConversations{
		start: func(context.Context, string) (*domain.Session, error) { return nil, services.ErrStoreUnavailable },
	}})
	w := do(newRouter(h), http.MethodPost, "/conversations", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestPostTurn_Validation(t *testing.T) {
	called := false
	h := New(Deps{MaxMessageRunes: 5, Conversations: stubConversations{
		turn: func(context.Context, string, string, services.Sink) (*services.TurnResult, error) {
			called = true
			return nil, nil
		},
	}})
	r := newRouter(h)

	cases := []struct {
		name string
		body any
	}{
		{"bad json", "{"},
		{"missing content", map[string]any{}},
		{"blank content", map[string]any{"content": " \n\n "}},
		{"too long", map[string]any{"content": "ñññññññ"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/sessions/eng-coach-1/turns", tc.body, nil)
			if w.Code != http.StatusBadRequest || errCode(t, w) != ErrCodeBadRequest {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
		})
	}
	if called {
		t.Fatalf("service must not run on invalid input")
	}
}

func TestPostTurn_ReplyAndErrors(t *testing.T) {
	country := "Ghana"
	h := New(Deps{Conversations: stubConversations{
		turn: func(_ context.Context, id, text string, sink services.Sink) (*services.TurnResult, error) {
			switch id {
			case "eng-coach-done":
				return nil, services.ErrSessionTerminated
			case "eng-coach-missing":
				return nil, services.ErrSessionNotFound
			}
			if sink != nil {
				t.Errorf("HTTP turns must not stream")
			}
			s := &domain.Session{ID: id, Status: domain.StatusActive, CountryOfOrigin: &country}
			return &services.TurnResult{
				Phase:       domain.PhaseAwaitingProblem,
				UserMessage: &domain.Message{ID: "u1", Role: domain.RoleUser, Content: text},
				Reply:       &domain.Message{ID: "a1", Role: domain.RoleAssistant, Content: "What problem?"},
				Session:     s,
			}, nil
		},
	}})
	r := newRouter(h)

	w := do(r, http.MethodPost, "/sessions/eng-coach-1/turns", map[string]any{"content": "Ghana"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp TurnResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Phase != domain.PhaseAwaitingProblem || resp.Reply == nil || resp.Reply.Content != "What problem?" || resp.Terminated {
		t.Fatalf("unexpected %+v", resp)
	}

	if w := do(r, http.MethodPost, "/sessions/eng-coach-done/turns", map[string]any{"content": "hi"}, nil); w.Code != http.StatusConflict {
		t.Fatalf("terminated: status=%d", w.Code)
	}
	if w := do(r, http.MethodPost, "/sessions/eng-coach-missing/turns", map[string]any{"content": "hi"}, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing: status=%d", w.Code)
	}
}

func TestPostTurn_TerminatingTurn(t *testing.T) {
	end := time.Now().UTC()
	h := New(Deps{Conversations: stubConversations{
		turn: func(_ context.Context, id, _ string, _ services.Sink) (*services.TurnResult, error) {
			s := &domain.Session{ID: id, Status: domain.StatusTerminated, EndTime: &end}
			return &services.TurnResult{
				Phase:       domain.PhaseTerminated,
				UserMessage: &domain.Message{ID: "u1", Role: domain.RoleUser, Content: "end session"},
				Session:     s,
				Termination: &services.Termination{Session: s, Synced: true, ReportGenerated: true},
			}, nil
		},
	}})
	w := do(newRouter(h), http.MethodPost, "/sessions/eng-coach-1/turns", map[string]any{"content": "end session"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp TurnResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Terminated || !resp.Synced || !resp.ReportGenerated || resp.Reply != nil {
		t.Fatalf("unexpected %+v", resp)
	}
}

func TestPostTurn_IdempotentReplay(t *testing.T) {
	db := newTestDB(t)
	s := seedSession(t, db, "Ghana")
	ctx := context.Background()

	calls := 0
	h := New(Deps{
		DB: db,
		Conversations: stubConversations{
			turn: func(ctx context.Context, id, text string, _ services.Sink) (*services.TurnResult, error) {
				calls++
				u, err := repo.AppendMessage(ctx, db, id, domain.Message{Role: domain.RoleUser, Content: text})
				if err != nil {
					return nil, err
				}
				a, err := repo.AppendMessage(ctx, db, id, domain.Message{Role: domain.RoleAssistant, Content: "Tell me more."})
				if err != nil {
					return nil, err
				}
				return &services.TurnResult{Phase: domain.PhaseCoaching, UserMessage: u, Reply: a, Session: s}, nil
			},
		},
		Sessions: stubSessions{
			get: func(ctx context.Context, id string) (*domain.Session, error) {
				return repo.GetSession(ctx, db, id, false)
			},
		},
	})
	r := newRouter(h)
	hdr := map[string]string{"Idempotency-Key": "turn-1"}
	path := "/sessions/" + s.ID + "/turns"

	first := do(r, http.MethodPost, path, map[string]any{"content": "a bridge"}, hdr)
	if first.Code != http.StatusOK {
		t.Fatalf("first: status=%d body=%s", first.Code, first.Body.String())
	}
	if first.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("first call must not be a replay")
	}

	second := do(r, http.MethodPost, path, map[string]any{"content": "a bridge"}, hdr)
	if second.Code != http.StatusOK {
		t.Fatalf("second: status=%d", second.Code)
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("missing replay header")
	}
	var resp TurnResponse
	_ = json.Unmarshal(second.Body.Bytes(), &resp)
	if resp.Reply == nil || resp.Reply.Content != "Tell me more." {
		t.Fatalf("replay body %+v", resp)
	}
	if calls != 1 {
		t.Fatalf("turn ran %d times", calls)
	}

	n, err := repo.CountMessages(ctx, db, s.ID)
	if err != nil || n != 2 {
		t.Fatalf("messages=%d err=%v", n, err)
	}

	// A different key runs the turn again.
	if w := do(r, http.MethodPost, path, map[string]any{"content": "a bridge"}, map[string]string{"Idempotency-Key": "turn-2"}); w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if calls != 2 {
		t.Fatalf("turn ran %d times", calls)
	}
}

func TestPostTurn_SameKeyWhileRunningIsRejected(t *testing.T) {
	db := newTestDB(t)
	s := seedSession(t, db, "Ghana")
	ctx := context.Background()

	started, release := make(chan struct{}), make(chan struct{})
	var calls atomic.Int32
	h := New(Deps{
		DB: db,
		Conversations: stubConversations{
			turn: func(ctx context.Context, id, text string, _ services.Sink) (*services.TurnResult, error) {
				if calls.Add(1) == 1 {
					close(started)
					<-release
				}
				u, err := repo.AppendMessage(ctx, db, id, domain.Message{Role: domain.RoleUser, Content: text})
				if err != nil {
					return nil, err
				}
				a, err := repo.AppendMessage(ctx, db, id, domain.Message{Role: domain.RoleAssistant, Content: "Which span?"})
				if err != nil {
					return nil, err
				}
				return &services.TurnResult{Phase: domain.PhaseCoaching, UserMessage: u, Reply: a, Session: s}, nil
			},
		},
		Sessions: stubSessions{
			get: func(ctx context.Context, id string) (*domain.Session, error) {
				return repo.GetSession(ctx, db, id, false)
			},
		},
	})
	r := newRouter(h)
	hdr := map[string]string{"Idempotency-Key": "retry-1"}
	path := "/sessions/" + s.ID + "/turns"
	body := map[string]any{"content": "a footbridge"}

	first := make(chan int, 1)
	go func() { first <- do(r, http.MethodPost, path, body, hdr).Code }()
	<-started

	w := do(r, http.MethodPost, path, body, hdr)
	if w.Code != http.StatusConflict || errCode(t, w) != ErrCodeTurnInProgress {
		t.Fatalf("retry during turn: status=%d body=%s", w.Code, w.Body.String())
	}
	close(release)
	if code := <-first; code != http.StatusOK {
		t.Fatalf("first: status=%d", code)
	}

	w = do(r, http.MethodPost, path, body, hdr)
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("retry after turn: status=%d replayed=%q", w.Code, w.Header().Get("Idempotency-Replayed"))
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("turn ran %d times", n)
	}
	if n, err := repo.CountMessages(ctx, db, s.ID); err != nil || n != 2 {
		t.Fatalf("messages=%d err=%v", n, err)
	}
}

func TestPostTurn_FailedTurnReleasesKey(t *testing.T) {
	db := newTestDB(t)
	s := seedSession(t, db, "Ghana")
	fails := true
	h := New(Deps{
		DB: db,
		Conversations: stubConversations{
			turn: func(context.Context, string, string, services.Sink) (*services.TurnResult, error) {
				if fails {
					return nil, services.ErrStoreUnavailable
				}
				return &services.TurnResult{
					Phase:       domain.PhaseCoaching,
					UserMessage: &domain.Message{ID: "u1", Role: domain.RoleUser, Content: "x"},
					Reply:       &domain.Message{ID: "a1", Role: domain.RoleAssistant, Content: "y"},
					Session:     s,
				}, nil
			},
		},
	})
	r := newRouter(h)
	hdr := map[string]string{"Idempotency-Key": "retry-2"}
	path := "/sessions/" + s.ID + "/turns"

	if w := do(r, http.MethodPost, path, map[string]any{"content": "x"}, hdr); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("failing turn: status=%d", w.Code)
	}
	if _, err := repo.GetIdempotency(context.Background(), db, s.ID, "retry-2", time.Now().UTC()); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("reservation must be released, got %v", err)
	}

	fails = false
	w := do(r, http.MethodPost, path, map[string]any{"content": "x"}, hdr)
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("retry must run the turn: status=%d", w.Code)
	}
	rec, err := repo.GetIdempotency(context.Background(), db, s.ID, "retry-2", time.Now().UTC())
	if err != nil || rec.Pending() || rec.MessageID != "a1" {
		t.Fatalf("record = %+v, %v", rec, err)
	}
}

func TestTerminateSession(t *testing.T) {
	end := time.Now().UTC()
	var gotOutcome domain.Satisfaction
	h := New(Deps{Conversations: stubConversations{
		terminate: func(_ context.Context, id string, outcome domain.Satisfaction) (*services.Termination, error) {
			gotOutcome = outcome
			s := &domain.Session{ID: id, Status: domain.StatusTerminated, EndTime: &end}
			switch id {
			case "eng-coach-twice":
				return &services.Termination{Session: s, Synced: true}, services.ErrAlreadyTerminated
			case "eng-coach-fresh":
				return nil, services.ErrSessionNotStarted
			case "eng-coach-missing":
				return nil, services.ErrSessionNotFound
			}
			return &services.Termination{Session: s, Synced: false, ReportGenerated: true}, nil
		},
	}})
	r := newRouter(h)

	w := do(r, http.MethodPost, "/sessions/eng-coach-1/terminate", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp TerminateResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.AlreadyFinalized || resp.Synced || !resp.ReportGenerated || resp.Session == nil {
		t.Fatalf("unexpected %+v", resp)
	}
	if gotOutcome != domain.SatisfactionNotProvided {
		t.Fatalf("outcome=%q", gotOutcome)
	}

	w = do(r, http.MethodPost, "/sessions/eng-coach-twice/terminate", nil, nil)
	resp = TerminateResponse{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || !resp.AlreadyFinalized {
		t.Fatalf("second terminate: status=%d %+v", w.Code, resp)
	}

	if w := do(r, http.MethodPost, "/sessions/eng-coach-fresh/terminate", nil, nil); w.Code != http.StatusConflict || errCode(t, w) != ErrCodeNotStarted {
		t.Fatalf("not started: status=%d", w.Code)
	}
	if w := do(r, http.MethodPost, "/sessions/eng-coach-missing/terminate", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing: status=%d", w.Code)
	}
}
