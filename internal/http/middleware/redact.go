package middleware

import (
	"net/http"
	"regexp"
	"strings"
)

const redactedValue = "[REDACTED]"

// Patterns are applied in order. UUIDs go first so the phone pattern cannot
// eat their digit groups; codes go before emails and phones for the same
// reason.
var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	codeRE  = regexp.MustCompile(`(?i)\b(otp|code)=\d{4,8}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// scrubber removes researcher emails, verification codes, phone numbers and
// identifiers from strings bound for the access log. Bodies are never
// logged, so only queries and headers pass through here.
type scrubber struct {
	masked map[string]struct{}
}

func newScrubber(extra []string) *scrubber {
	s := &scrubber{masked: map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}}
	for _, h := range extra {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			s.masked[h] = struct{}{}
		}
	}
	return s
}

func (s *scrubber) text(v string) string {
	if v == "" {
		return v
	}
	v = uuidRE.ReplaceAllString(v, "[REDACTED:id]")
	v = codeRE.ReplaceAllString(v, "$1=[REDACTED:otp]")
	v = emailRE.ReplaceAllString(v, "[REDACTED:email]")
	v = phoneRE.ReplaceAllString(v, "[REDACTED:phone]")
	return clip(v, maxQueryLogLen)
}

// headers flattens h, masking configured names and scrubbing the rest.
func (s *scrubber) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := s.masked[strings.ToLower(k)]; ok {
			out[k] = redactedValue
			continue
		}
		out[k] = s.text(strings.Join(vv, ", "))
	}
	return out
}
