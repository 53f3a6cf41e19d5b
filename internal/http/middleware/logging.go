// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the request correlation and access-log pieces:
//
//   - RequestID accepts a well-formed X-Request-ID from the caller or mints
//     a UUID, echoes it on the response and tags the active trace span.
//   - AccessLog writes one structured line per request. In redacted mode
//     the query string and header values pass through the scrubber in
//     redact.go and the client address is left out.
//   - Recovery turns panics into the JSON error envelope.
//   - LoggerFrom hands the request-scoped logger to handlers.
//
// Recommended order: RequestID, AccessLog, Recovery.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HeaderRequestID carries the correlation id in both directions.
	HeaderRequestID = "X-Request-ID"

	ctxKeyRequestID = "requestID"
	ctxKeyLogger    = "logger"

	maxRequestIDLen = 128
	maxQueryLogLen  = 1024
)

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)

// RequestID attaches a correlation id to every request. Caller-supplied ids
// longer than 128 bytes or containing anything beyond [A-Za-z0-9._:-] are
// replaced, so the value is always safe to log and echo.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderRequestID)
		if len(rid) > maxRequestIDLen || !requestIDPattern.MatchString(rid) {
			rid = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, rid)
		c.Writer.Header().Set(HeaderRequestID, rid)

		if span := trace.SpanFromContext(c.Request.Context()); span.IsRecording() {
			span.SetAttributes(attribute.String("http.request_id", rid))
		}
		c.Next()
	}
}

// AccessLogOptions selects the access-log flavour.
type AccessLogOptions struct {
	// Redact scrubs queries and headers and omits the client address.
	Redact bool
	// MaskHeaders are replaced wholesale in redacted mode, on top of
	// Authorization, Cookie and Set-Cookie.
	MaskHeaders []string
}

// AccessLog emits one "http_request" line per request and stores a
// request-scoped logger for LoggerFrom. Severity follows the outcome:
// error for 5xx or recorded gin errors, warn for 4xx, info otherwise.
func AccessLog(opts AccessLogOptions) gin.HandlerFunc {
	var scrub *scrubber
	if opts.Redact {
		scrub = newScrubber(opts.MaskHeaders)
	}

	return func(c *gin.Context) {
		start := time.Now()
		route := routeOf(c)

		fields := log.With().
			Str("request_id", requestIDOf(c)).
			Str("method", c.Request.Method).
			Str("path", route)
		if id := c.Param("id"); id != "" {
			fields = fields.Str("session_id", id)
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			fields = fields.Str("trace_id", sc.TraceID().String())
		}
		scoped := fields.Logger()
		c.Set(ctxKeyLogger, &scoped)

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0 || status >= http.StatusInternalServerError:
			ev = scoped.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= http.StatusBadRequest:
			ev = scoped.Warn()
		default:
			ev = scoped.Info()
		}

		if scrub != nil {
			ev = ev.Str("query", scrub.text(c.Request.URL.RawQuery)).
				Interface("headers", scrub.headers(c.Request.Header))
		} else {
			ev = ev.Str("query", clip(c.Request.URL.RawQuery, maxQueryLogLen)).
				Str("remote_ip", c.ClientIP()).
				Str("user_agent", c.Request.UserAgent())
		}
		if uid := c.GetString("userID"); uid != "" && scrub == nil {
			ev = ev.Str("user_id", uid)
		}

		ev.Int("status", status).
			Int64("bytes_in", c.Request.ContentLength).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Msg("http_request")
	}
}

// Recovery converts a panic into a 500 with the standard error envelope,
// unless the handler already started writing.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := requestIDOf(c)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(HeaderRequestID, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the logger stored by AccessLog, or the global logger
// when none was attached. The result is never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(ctxKeyLogger); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.Logger
	return &l
}

func requestIDOf(c *gin.Context) string {
	if rid := c.GetString(ctxKeyRequestID); rid != "" {
		return rid
	}
	if rid := c.Writer.Header().Get(HeaderRequestID); rid != "" {
		return rid
	}
	return c.GetHeader(HeaderRequestID)
}

// routeOf prefers the matched route pattern so log cardinality stays low.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

// clip shortens s to at most max bytes on a rune boundary and marks the cut.
func clip(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
