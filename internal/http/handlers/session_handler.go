// Session HTTP handlers.
//
// This file exposes the researcher CRUD over stored sessions:
//   - GET    /sessions               (list, newest first, ETag support)
//   - POST   /sessions               (create, optional embedded messages)
//   - GET    /sessions/{id}          (one session with messages)
//   - PUT    /sessions/{id}          (partial update)
//   - DELETE /sessions/{id}
//   - GET    /sessions/{id}/messages (ascending, ETag support)
//   - POST   /sessions/{id}/messages (append)
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/exoxegroup/eng-ai/internal/domain"
	"github.com/exoxegroup/eng-ai/internal/repo"
)

//
// DTOs
//

// ListSessionsResponse wraps a page of sessions and pagination information.
type ListSessionsResponse struct {
	Sessions   []domain.Session `json:"sessions"`
	Pagination Pagination       `json:"pagination"`
}

// ListMessagesResponse contains a page of session messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// UpdateSessionRequest is the JSON payload for a partial session update.
// Absent fields are left unchanged.
type UpdateSessionRequest struct {
	CountryOfOrigin       *string   `json:"country_of_origin"      example:"Ghana"`
	UserLocation          *string   `json:"user_location"          example:"Accra, Ghana"`
	OriginalPrompt        *string   `json:"original_prompt"`
	AIRefinedPrompt       *string   `json:"ai_refined_prompt"`
	AISolution            *string   `json:"ai_solution"`
	UserSatisfaction      *string   `json:"user_satisfaction"      example:"Satisfied"`
	EngagementScore       *int      `json:"engagement_score"       example:"2"`
	EngagementRationale   *string   `json:"engagement_rationale"`
	IntelligenceScore     *int      `json:"intelligence_score"     example:"3"`
	IntelligenceRationale *string   `json:"intelligence_rationale"`
	KeyTopics             *[]string `json:"key_topics"`
	SkillAreas            *[]string `json:"skill_areas"`
	NextSteps             *[]string `json:"next_steps"`
}

func (r UpdateSessionRequest) patch() repo.SessionPatch {
	p := repo.SessionPatch{
		CountryOfOrigin:       r.CountryOfOrigin,
		UserLocation:          r.UserLocation,
		OriginalPrompt:        r.OriginalPrompt,
		AIRefinedPrompt:       r.AIRefinedPrompt,
		AISolution:            r.AISolution,
		EngagementScore:       r.EngagementScore,
		EngagementRationale:   r.EngagementRationale,
		IntelligenceScore:     r.IntelligenceScore,
		IntelligenceRationale: r.IntelligenceRationale,
		KeyTopics:             r.KeyTopics,
		SkillAreas:            r.SkillAreas,
		NextSteps:             r.NextSteps,
	}
	if r.UserSatisfaction != nil {
		s := domain.Satisfaction(strings.TrimSpace(*r.UserSatisfaction))
		p.UserSatisfaction = &s
	}
	return p
}

// AppendMessageRequest is the JSON payload for appending a message.
type AppendMessageRequest struct {
	Role    string `json:"role"    binding:"required" example:"user"`
	Content string `json:"content" binding:"required" example:"Ghana"`
}

// etagMatch sets the ETag header and reports whether the client copy is fresh.
func etagMatch(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

//
// Handlers
//

// ListSessions godoc
// @ID          listSessions
// @Summary     List sessions (paginated)
// @Description Returns stored sessions newest first with their messages. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Sessions
// @Produce     json
// @Security    BearerAuth
//
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Param       If-None-Match  header  string  false "Weak ETag from a previous response"
//
// @Success     200  {object}  handlers.ListSessionsResponse
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions [get]
func (h *Handlers) ListSessions(c *gin.Context) {
	ctx := c.Request.Context()

	if h.DB != nil {
		if count, maxTS, err := repo.SessionsStats(ctx, h.DB); err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			if etagMatch(c, fmt.Sprintf(`W/"sessions:%d:%d"`, count, ts)) {
				return
			}
		}
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.Sessions.ListPage(ctx, page, pageSize)
	if err != nil {
		failSession(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListSessionsResponse{
		Sessions:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// GetSession godoc
// @ID          getSession
// @Summary     Get one session
// @Description Returns a session with its messages in ascending order.
// @Tags        Sessions
// @Produce     json
//
// @Param       id   path  string  true  "Session ID"  example(eng-coach-5f0c1b2a-4c3d-8e9f-0123456789ab)
//
// @Success     200  {object}  domain.Session
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /sessions/{id} [get]
func (h *Handlers) GetSession(c *gin.Context) {
	s, err := h.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failSession(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, s)
}

// CreateSession godoc
// @ID          createSession
// @Summary     Create a session record
// @Description Stores a session, optionally with embedded messages. Records with end_time are stored as terminated.
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  domain.Session  true  "Session record"
//
// @Success     201  {object}  domain.Session
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions [post]
func (h *Handlers) CreateSession(c *gin.Context) {
	var in domain.Session
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	s, err := h.Sessions.Create(c.Request.Context(), &in)
	if err != nil {
		failSession(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, s)
}

// UpdateSession godoc
// @ID          updateSession
// @Summary     Partially update a session
// @Description Applies the given fields to an active session. Country and original prompt are write-once.
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string                          true  "Session ID"
// @Param       body  body  handlers.UpdateSessionRequest   true  "Fields to change"
//
// @Success     200  {object}  domain.Session
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Session terminated"
// @Router      /sessions/{id} [put]
func (h *Handlers) UpdateSession(c *gin.Context) {
	var req UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	s, err := h.Sessions.Update(c.Request.Context(), c.Param("id"), req.patch())
	if err != nil {
		failSession(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, s)
}

// DeleteSession godoc
// @ID          deleteSession
// @Summary     Delete a session
// @Tags        Sessions
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Session ID"
//
// @Success     204  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Router      /sessions/{id} [delete]
func (h *Handlers) DeleteSession(c *gin.Context) {
	if err := h.Sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		failSession(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a session
// @Description Returns a paginated, ascending list of messages. Supports weak ETag via If-None-Match.
// @Tags        Messages
// @Produce     json
//
// @Param       id         path   string  true  "Session ID"
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Success     304  {string} string "Not Modified"
// @Failure     404  {object} handlers.ErrorResponse "Session not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /sessions/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if h.DB != nil {
		if count, maxTS, err := repo.MessagesStats(ctx, h.DB, id); err == nil && count > 0 {
			if etagMatch(c, fmt.Sprintf(`W/"messages:%s:%d:%d"`, id, count, maxTS.UnixNano())) {
				return
			}
		}
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.Sessions.ListMessages(ctx, id, page, pageSize)
	if err != nil {
		failSession(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// AppendMessage godoc
// @ID          appendMessage
// @Summary     Append a message to a session
// @Description Stores a message as the next in sequence and bumps total_messages.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string                          true  "Session ID"
// @Param       body  body  handlers.AppendMessageRequest   true  "Message"
//
// @Success     201  {object}  domain.Message
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Router      /sessions/{id}/messages [post]
func (h *Handlers) AppendMessage(c *gin.Context) {
	var req AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "role and content required")
		return
	}
	m, err := h.Sessions.AppendMessage(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.Role), sanitizeContent(req.Content))
	if err != nil {
		failSession(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, m)
}
