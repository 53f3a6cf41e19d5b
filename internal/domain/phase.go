package domain

// Phase is the logical stage of a conversation. It is derived from session
// data on every turn rather than stored.
type Phase string

const (
	PhaseAwaitingCountry Phase = "awaiting_country"
	PhaseAwaitingProblem Phase = "awaiting_problem"
	PhaseCoaching        Phase = "coaching"
	PhaseTerminating     Phase = "terminating"
	PhaseTerminated      Phase = "terminated"
)

// DerivePhase computes the phase of s from its fields:
//   - EndTime set → Terminated
//   - Status terminating → Terminating
//   - no country → AwaitingCountry
//   - no original prompt → AwaitingProblem
//   - otherwise → Coaching
func DerivePhase(s *Session) Phase {
	switch {
	case s == nil:
		return PhaseAwaitingCountry
	case s.EndTime != nil:
		return PhaseTerminated
	case s.Status == StatusTerminating:
		return PhaseTerminating
	case !s.Started():
		return PhaseAwaitingCountry
	case s.OriginalPrompt == nil:
		return PhaseAwaitingProblem
	default:
		return PhaseCoaching
	}
}

// PhaseMatchesStatus reports whether the derived phase agrees with the
// persisted Status marker.
func PhaseMatchesStatus(s *Session) bool {
	if s == nil {
		return false
	}
	p := DerivePhase(s)
	switch s.Status {
	case StatusTerminated:
		return p == PhaseTerminated
	case StatusTerminating:
		return p == PhaseTerminating
	case StatusActive, "":
		return p == PhaseAwaitingCountry || p == PhaseAwaitingProblem || p == PhaseCoaching
	}
	return false
}
