// Conversation HTTP handlers.
//
// This file exposes the public coaching endpoints:
//   - POST /conversations            (start a session with the greeting)
//   - POST /sessions/{id}/turns      (one user turn)
//   - POST /sessions/{id}/terminate  (external termination)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// turn exists for (session, key), the handler returns the recorded reply and
// sets `Idempotency-Replayed: true` instead of running the turn again. The
// key is reserved before the turn runs, so a retry racing the first attempt
// gets 409 turn_in_progress; a failed turn releases the key.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/exoxegroup/eng-ai/internal/domain"
	"github.com/exoxegroup/eng-ai/internal/http/middleware"
	"github.com/exoxegroup/eng-ai/internal/repo"
	"github.com/exoxegroup/eng-ai/internal/services"
)

//
// DTOs
//

// PostTurnRequest is the JSON payload for a user turn.
type PostTurnRequest struct {
	// Content is the user message. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"Design a pedestrian bridge over a 30 m river."`
}

// TurnResponse describes the outcome of a user turn.
type TurnResponse struct {
	Phase       domain.Phase    `json:"phase"        example:"coaching"`
	UserMessage *domain.Message `json:"user_message,omitempty"`
	// Reply is absent when the turn ended the session.
	Reply      *domain.Message `json:"reply,omitempty"`
	Session    *domain.Session `json:"session"`
	Terminated bool            `json:"terminated"`
	// Synced is false when the finished record only reached the local mirror.
	Synced          bool `json:"synced,omitempty"`
	ReportGenerated bool `json:"report_generated,omitempty"`
}

// TerminateResponse is returned by the termination endpoint.
type TerminateResponse struct {
	Session          *domain.Session `json:"session"`
	Synced           bool            `json:"synced"`
	ReportGenerated  bool            `json:"report_generated"`
	AlreadyFinalized bool            `json:"already_terminated"`
}

func turnResponse(res *services.TurnResult) TurnResponse {
	out := TurnResponse{
		Phase:       res.Phase,
		UserMessage: res.UserMessage,
		Reply:       res.Reply,
		Session:     res.Session,
	}
	if t := res.Termination; t != nil {
		out.Terminated = true
		out.Synced = t.Synced
		out.ReportGenerated = t.ReportGenerated
	}
	return out
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
// CRLF/CR become LF, runs of three or more LFs collapse to two and
// surrounding whitespace is trimmed.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// checkContent fails fast at the edge for empty or oversized messages.
func (h *Handlers) checkContent(c *gin.Context, content string) bool {
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return false
	}
	if h.MaxMessageRunes > 0 && utf8.RuneCountInString(content) > h.MaxMessageRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", h.MaxMessageRunes))
		return false
	}
	return true
}

// turnReservation bounds how long a reserved key blocks retries when the
// process stops before the turn completes.
const turnReservation = 5 * time.Minute

// replayTurn answers from the record for (sessionID, key): the recorded
// reply when the turn completed, 409 while it is still running. It reports
// false when nothing was written.
func (h *Handlers) replayTurn(c *gin.Context, sessionID, key string) bool {
	if h.DB == nil {
		return false
	}
	ctx := c.Request.Context()
	rec, err := repo.GetIdempotency(ctx, h.DB, sessionID, key, time.Now().UTC())
	if err != nil || rec == nil {
		return false
	}
	if rec.Pending() {
		c.Header("Retry-After", "1")
		fail(c, http.StatusConflict, ErrCodeTurnInProgress, "a turn with this Idempotency-Key is in progress")
		return true
	}
	prev, err := repo.GetMessage(ctx, h.DB, rec.MessageID)
	if err != nil {
		return false
	}
	sess, err := h.Sessions.Get(ctx, sessionID)
	if err != nil {
		return false
	}
	out := TurnResponse{Phase: domain.DerivePhase(sess), Session: sess, Terminated: sess.Terminated()}
	if prev.Role == domain.RoleAssistant {
		out.Reply = prev
	} else {
		out.UserMessage = prev
	}
	c.Header(middleware.HeaderIdempotencyReplayed, "true")
	ok(c, rec.Status, out)
	return true
}

// reserveTurn claims the key before the turn runs. It reports false when
// the response was already written because another request holds or has
// completed the key. Store errors are logged and the turn proceeds.
func (h *Handlers) reserveTurn(c *gin.Context, sessionID, key string) bool {
	if h.DB == nil {
		return true
	}
	hold := min(turnReservation, h.IdempotencyTTL)
	_, err := repo.ReserveIdempotency(c.Request.Context(), h.DB, sessionID, key, hold)
	switch {
	case err == nil:
		return true
	case errors.Is(err, repo.ErrDuplicate):
		if h.replayTurn(c, sessionID, key) {
			return false
		}
		c.Header("Retry-After", "1")
		fail(c, http.StatusConflict, ErrCodeTurnInProgress, "a turn with this Idempotency-Key is in progress")
		return false
	}
	middleware.LoggerFrom(c).Debug().Err(err).Msg("idempotency key not reserved")
	return true
}

// releaseTurn frees the key of a failed turn so the client can retry it.
func (h *Handlers) releaseTurn(c *gin.Context, sessionID, key string) {
	if h.DB == nil || key == "" {
		return
	}
	if err := repo.ReleaseIdempotency(c.Request.Context(), h.DB, sessionID, key); err != nil {
		middleware.LoggerFrom(c).Debug().Err(err).Msg("idempotency key not released")
	}
}

// recordTurn stores the idempotency record for a completed turn. Best effort.
func (h *Handlers) recordTurn(c *gin.Context, sessionID, key string, res *services.TurnResult) {
	if h.DB == nil || key == "" {
		return
	}
	msg := res.Reply
	if msg == nil {
		msg = res.UserMessage
	}
	if msg == nil {
		return
	}
	ctx := c.Request.Context()
	err := repo.CompleteIdempotency(ctx, h.DB, sessionID, key, msg.ID, http.StatusOK, h.IdempotencyTTL)
	if errors.Is(err, repo.ErrNotFound) {
		_, err = repo.CreateIdempotency(ctx, h.DB, sessionID, key, msg.ID, http.StatusOK, h.IdempotencyTTL)
	}
	if err != nil {
		middleware.LoggerFrom(c).Debug().Err(err).Msg("idempotency record not stored")
	}
}

//
// Handlers
//

// StartConversation godoc
// @ID          startConversation
// @Summary     Start a coaching session
// @Description Creates a session whose transcript begins with the assistant greeting. The user location is resolved from the client address when available.
// @Tags        Conversations
// @Produce     json
//
// @Success     201  {object}  domain.Session
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [post]
func (h *Handlers) StartConversation(c *gin.Context) {
	s, err := h.Conversations.Start(c.Request.Context(), c.ClientIP())
	if err != nil {
		failSession(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, s)
}

// PostTurn godoc
// @ID          postTurn
// @Summary     Send one user turn
// @Description Runs one step of the conversation and returns the assistant reply, or the finished session when the message ended it.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Session ID"
// @Param       body             body    handlers.PostTurnRequest  true  "User message payload"
//
// @Success     200  {object}  handlers.TurnResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Session terminated or keyed turn in progress"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /sessions/{id}/turns [post]
func (h *Handlers) PostTurn(c *gin.Context) {
	sessionID := c.Param("id")

	var req PostTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	content := sanitizeContent(req.Content)
	if !h.checkContent(c, content) {
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		if h.replayTurn(c, sessionID, idemKey) || !h.reserveTurn(c, sessionID, idemKey) {
			return
		}
	}

	res, err := h.Conversations.Turn(c.Request.Context(), sessionID, content, nil)
	if err != nil {
		h.releaseTurn(c, sessionID, idemKey)
		failSession(c, err, ErrCodeTurnFailed)
		return
	}
	h.recordTurn(c, sessionID, idemKey, res)
	ok(c, http.StatusOK, turnResponse(res))
}

// TerminateSession godoc
// @ID          terminateSession
// @Summary     End a session
// @Description Freezes the end time and synthesizes the outcome report. A session that already ended is returned unchanged.
// @Tags        Conversations
// @Produce     json
//
// @Param       id  path  string  true  "Session ID"
//
// @Success     200  {object}  handlers.TerminateResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Session not started"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /sessions/{id}/terminate [post]
func (h *Handlers) TerminateSession(c *gin.Context) {
	t, err := h.Conversations.Terminate(c.Request.Context(), c.Param("id"), domain.SatisfactionNotProvided)
	switch {
	case errors.Is(err, services.ErrAlreadyTerminated) && t != nil:
		ok(c, http.StatusOK, TerminateResponse{
			Session:          t.Session,
			Synced:           t.Synced,
			ReportGenerated:  t.ReportGenerated,
			AlreadyFinalized: true,
		})
	case err != nil:
		failSession(c, err, ErrCodeInternal)
	default:
		ok(c, http.StatusOK, TerminateResponse{
			Session:         t.Session,
			Synced:          t.Synced,
			ReportGenerated: t.ReportGenerated,
		})
	}
}
