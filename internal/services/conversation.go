// The coaching conversation state machine. The phase of
// a session is re-derived from its stored fields on every turn
// (domain.DerivePhase); the persisted Status column only guards termination
// so that concurrent triggers produce exactly one report.
//
// Turns on one session are serialized in-process with a keyed lock; the
// store's conditional writes keep the invariants across processes.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/exoxegroup/eng-ai/internal/domain"
	"github.com/exoxegroup/eng-ai/internal/oracle"
	"github.com/exoxegroup/eng-ai/internal/repo"
)

// SessionIDPrefix prefixes every generated session ID.
const SessionIDPrefix = "eng-coach-"

// Locator resolves a client address to a display location.
type Locator interface {
	Locate(ctx context.Context, ip string) (string, error)
}

// Sink receives the provisional assistant text while the coaching oracle
// streams. It is called with the full text so far. Returning an error
// detaches the sink for the rest of the turn; the turn itself continues.
type Sink func(partial string) error

// TurnResult describes what one user turn did.
type TurnResult struct {
	// Phase is the phase after the turn.
	Phase       domain.Phase
	UserMessage *domain.Message
	// Reply is nil when the turn terminated the session.
	Reply   *domain.Message
	Session *domain.Session
	// Termination is set when the turn ended the session.
	Termination *Termination
}

// Termination is the outcome of finishing a session.
type Termination struct {
	Session *domain.Session
	// Synced is false when the record only reached the local mirror.
	Synced bool
	// ReportGenerated is false when synthesis failed and only the
	// pre-synthesis fields were kept.
	ReportGenerated bool
}

// ConversationService runs the coaching conversation state machine.
type ConversationService struct {
	Store   SessionStore
	Oracle  oracle.Oracle
	Reports *ReportSynthesizer
	// Mirror keeps finished sessions the store rejected. Optional.
	Mirror Mirror
	// Locator resolves the user location at start. Optional.
	Locator Locator

	// OracleTimeout bounds each oracle call.
	OracleTimeout time.Duration
	// MaxMessageRunes caps user message length; zero disables the check.
	MaxMessageRunes int

	Now func() time.Time

	initOnce sync.Once
	locks    *keyLocks
}

// NewConversationService constructs a ConversationService with defaults.
func NewConversationService(store SessionStore, o oracle.Oracle) *ConversationService {
	return &ConversationService{
		Store:           store,
		Oracle:          o,
		Reports:         NewReportSynthesizer(o),
		OracleTimeout:   60 * time.Second,
		MaxMessageRunes: 8000,
	}
}

func (s *ConversationService) lock(ctx context.Context, id string) (func(), error) {
	s.initOnce.Do(func() { s.locks = newKeyLocks() })
	return s.locks.Lock(ctx, id)
}

func (s *ConversationService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// oracleCtx bounds an oracle call. The call survives cancellation of the
// caller so that the message log stays complete.
func (s *ConversationService) oracleCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.oracleTimeout())
}

func (s *ConversationService) oracleTimeout() time.Duration {
	if s.OracleTimeout <= 0 {
		return 60 * time.Second
	}
	return s.OracleTimeout
}

// Start creates a session, appends the greeting and records the user
// location on a best-effort basis.
func (s *ConversationService) Start(ctx context.Context, clientIP string) (*domain.Session, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Start")
	defer span.End()

	location := domain.LocationNotAvailable
	if s.Locator != nil {
		if loc, err := s.Locator.Locate(ctx, clientIP); err == nil && strings.TrimSpace(loc) != "" {
			location = loc
		} else if err != nil {
			log.Debug().Err(err).Msg("location lookup failed")
		}
	}

	now := s.now()
	sess := &domain.Session{
		ID:           SessionIDPrefix + uuid.NewString(),
		StartTime:    now,
		Status:       domain.StatusActive,
		UserLocation: &location,
		Messages: []domain.Message{{
			Role:      domain.RoleAssistant,
			Content:   domain.GreetingText,
			CreatedAt: now,
		}},
	}
	if err := s.Store.CreateSession(ctx, sess); err != nil {
		span.RecordError(err)
		return nil, storeErr(err)
	}
	span.SetAttributes(attribute.String("session.id", sess.ID))
	return sess, nil
}

// Turn processes one user message.
//
// Country phase: the country oracle decides between the problem prompt and
// the re-prompt; oracle failures count as an invalid country. Problem and
// coaching phases: the first message becomes the original prompt, later
// ones count as user refinements, and replies to the survey question count
// as survey interactions. An end-session phrase terminates the session as
// Satisfied without calling the coach; otherwise the coach reply is
// streamed to sink and stored as one assistant message.
func (s *ConversationService) Turn(ctx context.Context, sessionID, text string, sink Sink) (*TurnResult, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Turn",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(text) > s.MaxMessageRunes {
		return nil, ErrMessageTooLong
	}

	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.Store.GetSession(ctx, sessionID, true)
	if err != nil {
		return nil, storeErr(err)
	}
	if sess.Status != domain.StatusActive {
		return nil, ErrSessionTerminated
	}
	phase := domain.DerivePhase(sess)
	span.SetAttributes(attribute.String("phase", string(phase)))

	userMsg, err := s.Store.AppendMessage(ctx, sessionID, domain.Message{
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, storeErr(err)
	}
	// The user message is durable; the rest of the turn must complete even
	// when the caller goes away. Only the sink follows the caller.
	sink = sinkUntilDone(ctx, sink)
	ctx = context.WithoutCancel(ctx)

	res := &TurnResult{UserMessage: userMsg}
	if phase == domain.PhaseAwaitingCountry {
		res.Reply, err = s.countryTurn(ctx, sessionID, text)
	} else {
		err = s.coachingTurn(ctx, sess, userMsg, sink, res)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if res.Termination != nil {
		res.Session = res.Termination.Session
	} else if res.Session, err = s.Store.GetSession(ctx, sessionID, false); err != nil {
		return nil, storeErr(err)
	}
	res.Phase = domain.DerivePhase(res.Session)
	return res, nil
}

func (s *ConversationService) countryTurn(ctx context.Context, sessionID, text string) (*domain.Message, error) {
	octx, cancel := s.oracleCtx(ctx)
	verdict, err := s.Oracle.ValidateCountry(octx, text)
	cancel()
	oracleCalls.WithLabelValues("country", oracleResult(err)).Inc()
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("country validation failed")
	}

	reply := domain.CountryRepromptText
	if err == nil && verdict.Valid && strings.TrimSpace(verdict.Name) != "" {
		if _, serr := s.Store.SetCountryOnce(ctx, sessionID, strings.TrimSpace(verdict.Name)); serr != nil {
			return nil, storeErr(serr)
		}
		reply = domain.ProblemPromptText
	}

	m, err := s.Store.AppendMessage(ctx, sessionID, domain.Message{
		Role:      domain.RoleAssistant,
		Content:   reply,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return m, nil
}

func (s *ConversationService) coachingTurn(ctx context.Context, sess *domain.Session, userMsg *domain.Message, sink Sink, res *TurnResult) error {
	var delta repo.CounterDelta
	if sess.OriginalPrompt == nil {
		if _, err := s.Store.SetOriginalPromptOnce(ctx, sess.ID, userMsg.Content); err != nil {
			return storeErr(err)
		}
	} else {
		delta.UserRefinements = 1
	}
	if last := lastAssistant(sess.Messages); last != nil && domain.AsksSatisfaction(last.Content) {
		delta.SurveyInteractions = 1
	}

	if domain.IsEndSession(userMsg.Content) {
		if !delta.Zero() {
			if err := s.Store.AddCounters(ctx, sess.ID, delta); err != nil {
				return storeErr(err)
			}
		}
		t, err := s.terminateLocked(ctx, sess.ID, domain.Satisfied)
		if err != nil {
			return err
		}
		res.Termination = t
		return nil
	}

	history := append(append([]domain.Message(nil), sess.Messages...), *userMsg)
	reply := domain.NewStreamingMessage(sess.ID)
	detached := false
	onChunk := func(chunk string) error {
		soFar, err := reply.Append(chunk)
		if err != nil {
			return err
		}
		if sink != nil && !detached {
			if err := sink(soFar); err != nil {
				detached = true
				log.Debug().Err(err).Str("session_id", sess.ID).Msg("stream sink detached")
			}
		}
		return nil
	}

	octx, cancel := s.oracleCtx(ctx)
	err := s.Oracle.StreamCoaching(octx, history, onChunk)
	cancel()
	if err == nil && strings.TrimSpace(reply.Text()) == "" {
		err = fmt.Errorf("%w: empty coaching reply", ErrOracleMalformedResponse)
	}
	oracleCalls.WithLabelValues("coaching", oracleResult(err)).Inc()

	content := ""
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("coaching stream failed")
		content = domain.ApologyText
		delta.UserRefinements = 0
	}
	msg, err := reply.Commit(content, s.now())
	if err != nil {
		return err
	}

	if !delta.Zero() {
		if err := s.Store.AddCounters(ctx, sess.ID, delta); err != nil {
			return storeErr(err)
		}
	}
	stored, err := s.Store.AppendMessage(ctx, sess.ID, msg)
	if err != nil {
		return storeErr(err)
	}
	res.Reply = stored
	return nil
}

// Terminate ends a session from outside the conversation, such as a
// request for the dashboard. Sessions without a country are not started and
// yield ErrSessionNotStarted without any write. The loser of concurrent
// triggers gets ErrAlreadyTerminated together with the current record.
func (s *ConversationService) Terminate(ctx context.Context, sessionID string, outcome domain.Satisfaction) (*Termination, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Terminate",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("outcome", string(outcome)),
		),
	)
	defer span.End()

	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.terminateLocked(context.WithoutCancel(ctx), sessionID, outcome)
}

// terminateLocked freezes the end time, runs the report synthesizer and
// persists the result. The caller holds the session lock.
func (s *ConversationService) terminateLocked(ctx context.Context, sessionID string, outcome domain.Satisfaction) (*Termination, error) {
	if !outcome.Valid() {
		outcome = domain.SatisfactionNotProvided
	}

	sess, err := s.Store.GetSession(ctx, sessionID, true)
	if err != nil {
		return nil, storeErr(err)
	}
	if sess.Status != domain.StatusActive {
		return &Termination{Session: sess, Synced: true, ReportGenerated: sess.EngagementScore != nil}, ErrAlreadyTerminated
	}
	if !sess.Started() {
		return nil, ErrSessionNotStarted
	}

	synced := true
	cur, err := s.Store.ClaimTermination(ctx, sessionID)
	switch {
	case errors.Is(err, repo.ErrConflict):
		return &Termination{Session: cur, Synced: true, ReportGenerated: cur.EngagementScore != nil}, ErrAlreadyTerminated
	case err != nil && repo.IsUnavailable(err):
		log.Warn().Err(err).Str("session_id", sessionID).Msg("claim termination failed; continuing with local copy")
		cur, synced = sess, false
	case err != nil:
		return nil, storeErr(err)
	}

	end := s.now()
	cur.EndTime = &end
	cur.Status = domain.StatusTerminating
	dur := int64(end.Sub(cur.StartTime) / time.Second)
	cur.DurationSeconds = &dur
	cur.UserSatisfaction = domain.SatisfactionNotProvided

	original := ""
	if cur.OriginalPrompt != nil {
		original = *cur.OriginalPrompt
	}
	octx, cancel := s.oracleCtx(ctx)
	rep, rerr := s.Reports.Synthesize(octx, ReportInput{
		Transcript:         cur.Messages,
		OriginalPrompt:     original,
		Satisfaction:       outcome,
		UserRefinements:    cur.UserInitiatedRefinements,
		SurveyInteractions: cur.SatisfactionSurveyInteractions,
	})
	cancel()
	if rerr != nil {
		log.Warn().Err(rerr).Str("session_id", sessionID).Msg("report synthesis failed; keeping pre-synthesis fields")
	} else {
		rep.Apply(cur)
	}

	if synced {
		if err := s.Store.FinalizeSession(ctx, cur); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("finalize failed; mirroring locally")
			synced = false
		}
	}
	if !synced {
		cur.Status = domain.StatusTerminated
		s.mirror(ctx, cur, "durable store rejected the finished session")
	}

	switch {
	case !synced:
		terminations.WithLabelValues("mirrored").Inc()
	case rerr != nil:
		terminations.WithLabelValues("report_failed").Inc()
	default:
		terminations.WithLabelValues("synced").Inc()
	}
	return &Termination{Session: cur, Synced: synced, ReportGenerated: rerr == nil}, nil
}

func (s *ConversationService) mirror(ctx context.Context, sess *domain.Session, reason string) {
	if s.Mirror == nil {
		log.Error().Str("session_id", sess.ID).Msg("no local mirror configured; finished session not kept")
		return
	}
	if err := s.Mirror.Save(ctx, sess, reason); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("mirror save failed")
	}
}

// ResyncMirror pushes mirrored sessions to the durable store and removes
// the ones that made it. It returns how many were synced.
func (s *ConversationService) ResyncMirror(ctx context.Context) (int, error) {
	if s.Mirror == nil {
		return 0, nil
	}
	recs, err := s.Mirror.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		sess, err := repo.Decode(rec)
		if err != nil {
			log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("skipping undecodable mirror entry")
			continue
		}
		if err := s.resyncOne(ctx, sess); err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("mirror resync failed")
			continue
		}
		if err := s.Mirror.Delete(ctx, sess.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// resyncOne writes a mirrored session to the store. A session the store
// already finished is left alone; the store stays authoritative.
func (s *ConversationService) resyncOne(ctx context.Context, sess *domain.Session) error {
	unlock, err := s.lock(ctx, sess.ID)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := s.Store.GetSession(ctx, sess.ID, false)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		sess.Status = domain.StatusTerminated
		return s.Store.CreateSession(ctx, sess)
	case err != nil:
		return err
	case cur.Status == domain.StatusTerminated:
		return nil
	}
	if cur.Status == domain.StatusActive {
		if _, err := s.Store.ClaimTermination(ctx, sess.ID); err != nil && !errors.Is(err, repo.ErrConflict) {
			return err
		}
	}
	sess.Status = domain.StatusTerminating
	err = s.Store.FinalizeSession(ctx, sess)
	if errors.Is(err, repo.ErrConflict) {
		return nil
	}
	return err
}

// RecoverTerminations finishes sessions a stopped process left in the
// terminating state. A claim older than twice the oracle timeout cannot
// belong to a live termination; such sessions are finalized with the
// pre-synthesis fields only, ending at the moment of the claim. It
// returns how many were finalized.
func (s *ConversationService) RecoverTerminations(ctx context.Context) (int, error) {
	stuck, err := s.Store.StaleTerminations(ctx, s.now().Add(-2*s.oracleTimeout()))
	if err != nil {
		return 0, storeErr(err)
	}
	n := 0
	for i := range stuck {
		sess := &stuck[i]
		ok, err := s.recoverOne(ctx, sess)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("termination recovery failed")
			continue
		}
		if ok {
			log.Info().Str("session_id", sess.ID).Msg("finished interrupted termination")
			terminations.WithLabelValues("recovered").Inc()
			n++
		}
	}
	return n, nil
}

func (s *ConversationService) recoverOne(ctx context.Context, sess *domain.Session) (bool, error) {
	unlock, err := s.lock(ctx, sess.ID)
	if err != nil {
		return false, err
	}
	defer unlock()

	end := sess.UpdatedAt.UTC()
	if end.Before(sess.StartTime) {
		end = sess.StartTime
	}
	dur := int64(end.Sub(sess.StartTime) / time.Second)
	sess.EndTime = &end
	sess.DurationSeconds = &dur
	sess.UserSatisfaction = domain.SatisfactionNotProvided

	err = s.Store.FinalizeSession(ctx, sess)
	if errors.Is(err, repo.ErrConflict) {
		return false, nil
	}
	return err == nil, err
}

func sinkUntilDone(ctx context.Context, sink Sink) Sink {
	if sink == nil {
		return nil
	}
	return func(partial string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return sink(partial)
	}
}

func lastAssistant(msgs []domain.Message) *domain.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleAssistant {
			return &msgs[i]
		}
	}
	return nil
}

// storeErr maps repository errors onto service errors.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, repo.ErrConflict):
		return ErrSessionTerminated
	case repo.IsUnavailable(err):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
