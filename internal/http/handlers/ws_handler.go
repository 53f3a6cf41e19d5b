package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/exoxegroup/eng-ai/internal/domain"
	"github.com/exoxegroup/eng-ai/internal/services"
)

// Websocket frame types.
const (
	frameMessage    = "message"
	frameTerminate  = "terminate"
	framePartial    = "partial"
	frameReply      = "reply"
	frameTerminated = "terminated"
	frameError      = "error"
)

// wsFrame is the JSON envelope used in both directions on the websocket.
//
// Client frames: {"type":"message","content":"..."} and {"type":"terminate"}.
// Server frames: partial (provisional text so far), reply, terminated, error.
type wsFrame struct {
	Type    string        `json:"type"`
	Content string        `json:"content,omitempty"`
	Turn    *TurnResponse `json:"turn,omitempty"`
	Code    string        `json:"code,omitempty"`
	Message string        `json:"message,omitempty"`
}

const wsWriteTimeout = 10 * time.Second

func wsWrite(ctx context.Context, ws *websocket.Conn, f wsFrame) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, f)
}

func wsError(ctx context.Context, ws *websocket.Conn, err error) error {
	_, code, msg := sessionError(err, ErrCodeTurnFailed)
	return wsWrite(ctx, ws, wsFrame{Type: frameError, Code: code, Message: msg})
}

// SessionSocket godoc
// @ID          sessionSocket
// @Summary     Conversation websocket
// @Description Upgrades to a websocket that runs turns for one session. The provisional assistant text is pushed as "partial" frames while the coach streams; the stored reply follows as a "reply" frame.
// @Tags        Conversations
//
// @Param       id  path  string  true  "Session ID"
//
// @Success     101  "Switching Protocols"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Session terminated"
// @Router      /sessions/{id}/ws [get]
func (h *Handlers) SessionSocket(c *gin.Context) {
	sessionID := c.Param("id")

	// Reject unknown or finished sessions before upgrading.
	sess, err := h.Sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		failSession(c, err, ErrCodeInternal)
		return
	}
	if sess.Status != domain.StatusActive {
		fail(c, http.StatusConflict, ErrCodeSessionTerminated, "session already terminated")
		return
	}

	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(h.WSOrigins),
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("websocket accept failed")
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "session ended")

	ctx := c.Request.Context()
	for {
		var in wsFrame
		if err := wsjson.Read(ctx, ws, &in); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Debug().Err(err).Str("session_id", sessionID).Msg("websocket read failed")
			}
			return
		}

		switch in.Type {
		case frameMessage:
			if done := h.socketTurn(ctx, ws, sessionID, in.Content); done {
				return
			}
		case frameTerminate:
			t, err := h.Conversations.Terminate(ctx, sessionID, domain.SatisfactionNotProvided)
			if err != nil && !(errors.Is(err, services.ErrAlreadyTerminated) && t != nil) {
				if werr := wsError(ctx, ws, err); werr != nil {
					return
				}
				continue
			}
			_ = wsWrite(ctx, ws, wsFrame{Type: frameTerminated, Turn: &TurnResponse{
				Phase:           domain.DerivePhase(t.Session),
				Session:         t.Session,
				Terminated:      true,
				Synced:          t.Synced,
				ReportGenerated: t.ReportGenerated,
			}})
			return
		default:
			if err := wsWrite(ctx, ws, wsFrame{Type: frameError, Code: ErrCodeBadRequest, Message: "unknown frame type"}); err != nil {
				return
			}
		}
	}
}

// socketTurn runs one turn and reports whether the socket should close.
func (h *Handlers) socketTurn(ctx context.Context, ws *websocket.Conn, sessionID, raw string) bool {
	content := sanitizeContent(raw)
	if content == "" {
		return wsError(ctx, ws, services.ErrEmptyMessage) != nil
	}

	sink := func(partial string) error {
		return wsWrite(ctx, ws, wsFrame{Type: framePartial, Content: partial})
	}
	res, err := h.Conversations.Turn(ctx, sessionID, content, sink)
	if err != nil {
		if werr := wsError(ctx, ws, err); werr != nil {
			return true
		}
		return errors.Is(err, services.ErrSessionTerminated) || errors.Is(err, services.ErrSessionNotFound)
	}

	out := turnResponse(res)
	if res.Termination != nil {
		_ = wsWrite(ctx, ws, wsFrame{Type: frameTerminated, Turn: &out})
		return true
	}
	return wsWrite(ctx, ws, wsFrame{Type: frameReply, Turn: &out}) != nil
}

// originPatterns turns configured CORS origins into the host patterns the
// websocket handshake matches. No origins leaves only same-origin requests;
// "*" must be configured to allow every origin.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		out = append(out, o)
	}
	return out
}
