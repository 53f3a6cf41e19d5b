package services

import "github.com/prometheus/client_golang/prometheus"

// Domain collectors. Label values are fixed small sets.
var (
	// otpIssued counts issue attempts by result (sent, invalid_target,
	// channel_unavailable, delivery_failed, error).
	otpIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engcoach",
			Name:      "otp_issued_total",
			Help:      "Verification codes issued, by result.",
		},
		[]string{"result"},
	)

	// otpVerified counts verification attempts by result (ok, not_found,
	// expired, mismatch, error).
	otpVerified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engcoach",
			Name:      "otp_verified_total",
			Help:      "Verification attempts, by result.",
		},
		[]string{"result"},
	)

	codesSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "engcoach",
			Name:      "otp_codes_swept_total",
			Help:      "Expired verification codes removed by the sweeper.",
		},
	)

	// oracleCalls counts model calls by call (country, coaching, report)
	// and result (ok, unavailable, malformed).
	oracleCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engcoach",
			Name:      "oracle_calls_total",
			Help:      "Oracle calls, by call and result.",
		},
		[]string{"call", "result"},
	)

	// terminations counts finished sessions by outcome (synced, mirrored,
	// report_failed, recovered).
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engcoach",
			Name:      "sessions_terminated_total",
			Help:      "Session terminations, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(otpIssued, otpVerified, codesSwept, oracleCalls, terminations)
}

func oracleResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isMalformed(err):
		return "malformed"
	default:
		return "unavailable"
	}
}
