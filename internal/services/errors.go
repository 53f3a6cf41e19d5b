// Package services holds the business logic of the coaching backend: the
// conversation state machine, report synthesis, the verification gate and
// researcher CRUD. Errors returned here are mapped to HTTP status codes by
// the handlers.
package services

import (
	"errors"

	"github.com/exoxegroup/eng-ai/internal/oracle"
)

// Oracle errors. They alias the oracle package sentinels so callers can
// match either.
var (
	ErrOracleUnavailable       = oracle.ErrUnavailable
	ErrOracleMalformedResponse = oracle.ErrMalformedResponse
)

// Session errors.
var (
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionTerminated is returned for turns on a session whose end time
	// is frozen.
	ErrSessionTerminated = errors.New("session terminated")

	// ErrSessionNotStarted is returned when termination is requested before
	// a country was captured. Nothing is persisted in that case.
	ErrSessionNotStarted = errors.New("session not started")

	// ErrAlreadyTerminated is returned to the losing side of concurrent
	// termination triggers.
	ErrAlreadyTerminated = errors.New("session already terminated")

	// ErrEmptyMessage is returned when a turn carries no text.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when a turn exceeds the configured limit.
	ErrMessageTooLong = errors.New("message too long")

	// ErrInvalidSession is returned when a researcher-supplied session or
	// patch fails validation.
	ErrInvalidSession = errors.New("invalid session")

	// ErrStoreUnavailable means the durable store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrReportGeneration wraps the oracle failure that prevented a report.
	ErrReportGeneration = errors.New("report generation failed")
)

// Verification errors.
var (
	ErrInvalidTarget      = errors.New("invalid delivery target")
	ErrChannelUnavailable = errors.New("delivery channel unavailable")
	ErrDeliveryFailed     = errors.New("code delivery failed")
	ErrCodeNotFound       = errors.New("no code issued for target")
	ErrCodeExpired        = errors.New("code expired")
	ErrCodeMismatch       = errors.New("code does not match")
)
