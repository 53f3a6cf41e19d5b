package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/exoxegroup/eng-ai/internal/http/middleware"
	"github.com/exoxegroup/eng-ai/internal/services"
	"github.com/exoxegroup/eng-ai/internal/utils"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	// RequestID echoes X-Request-ID.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Code is one of the ErrCode constants.
	Code    string `json:"code"    example:"not_found"`
	Message string `json:"message" example:"session not found"`
}

// fail aborts with the error envelope. 5xx responses are also logged on the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get(middleware.HeaderRequestID),
		Code:      code,
		Message:   msg,
	})
}

// Fail is fail for the router's fallback handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }

// failSession maps session-level service errors onto HTTP errors. Anything
// unknown becomes a 500 with fallbackCode.
func failSession(c *gin.Context, err error, fallbackCode string) {
	status, code, msg := sessionError(err, fallbackCode)
	fail(c, status, code, msg)
}

func sessionError(err error, fallbackCode string) (status int, code, msg string) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "session not found"
	case errors.Is(err, services.ErrSessionTerminated), errors.Is(err, services.ErrAlreadyTerminated):
		return http.StatusConflict, ErrCodeSessionTerminated, "session already terminated"
	case errors.Is(err, services.ErrSessionNotStarted):
		return http.StatusConflict, ErrCodeNotStarted, "session has no country yet"
	case errors.Is(err, services.ErrEmptyMessage):
		return http.StatusBadRequest, ErrCodeBadRequest, "content required"
	case errors.Is(err, services.ErrMessageTooLong):
		return http.StatusBadRequest, ErrCodeBadRequest, "content too long"
	case errors.Is(err, services.ErrInvalidSession):
		return http.StatusBadRequest, ErrCodeBadRequest, err.Error()
	case errors.Is(err, services.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "session store unavailable"
	default:
		return http.StatusInternalServerError, fallbackCode, err.Error()
	}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	p := utils.Page{Number: page, Size: pageSize}
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: p.TotalPages(total),
		HasNext:    p.HasNext(total),
	}
}

// clampPagination reads page and page_size from the query, bounded to
// 1..100 items per page.
func clampPagination(c *gin.Context) (page, pageSize int) {
	p := utils.ParsePage(c.Query("page"), c.Query("page_size"))
	return p.Number, p.Size
}
