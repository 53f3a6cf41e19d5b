// Package topics extracts a short list of key topics from conversation text.
// It is deterministic and safe for concurrent use after construction:
//
//   - Unicode-aware tokenization with stop-word removal
//   - Repeated two-word phrases outrank the single words they contain
//   - Stable ordering for ties (frequency, then length, then lexical)
//   - Output is title-cased for the configured locale
package topics

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Option configures an Extractor.
type Option func(*config)

type config struct {
	maxTopics int
	minRunes  int
	stopwords map[string]struct{}
	locale    language.Tag
}

func defaultConfig() config {
	return config{
		maxTopics: 5,
		minRunes:  4,
		stopwords: defaultStopwords,
		locale:    language.English,
	}
}

// WithMaxTopics caps the number of returned topics.
func WithMaxTopics(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxTopics = n
		}
	}
}

// WithMinRunes sets the shortest word considered a topic.
func WithMinRunes(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.minRunes = n
		}
	}
}

// WithStopwords adds words that never become topics.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(c.stopwords)+len(words))
		for w := range c.stopwords {
			m[w] = struct{}{}
		}
		fold := cases.Fold()
		for _, w := range words {
			w = fold.String(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		c.stopwords = m
	}
}

// WithLocale selects the casing rules for returned topics.
func WithLocale(tag language.Tag) Option {
	return func(c *config) {
		if tag != language.Und {
			c.locale = tag
		}
	}
}

// Extractor ranks topics by frequency.
type Extractor struct {
	cfg config
}

// New returns an Extractor with opts applied over the defaults.
func New(opts ...Option) *Extractor {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Extractor{cfg: cfg}
}

type candidate struct {
	term  string
	count int
	words int
}

// Extract returns up to the configured number of topics found in texts.
// Phrases must repeat to count; single words count from their first use.
func (e *Extractor) Extract(texts ...string) []string {
	fold := cases.Fold()
	uni := make(map[string]int)
	bi := make(map[string]int)

	for _, t := range texts {
		toks := wordRE.FindAllString(fold.String(t), -1)
		prev := ""
		for _, w := range toks {
			if !e.keep(w) {
				prev = ""
				continue
			}
			uni[w]++
			if prev != "" {
				bi[prev+" "+w]++
			}
			prev = w
		}
	}

	cands := make([]candidate, 0, len(uni)+len(bi))
	for term, n := range bi {
		if n >= 2 {
			cands = append(cands, candidate{term: term, count: n, words: 2})
		}
	}
	for term, n := range uni {
		cands = append(cands, candidate{term: term, count: n, words: 1})
	}
	if len(cands) == 0 {
		return nil
	}

	sort.SliceStable(cands, func(a, b int) bool {
		if cands[a].count != cands[b].count {
			return cands[a].count > cands[b].count
		}
		if cands[a].words != cands[b].words {
			return cands[a].words > cands[b].words
		}
		if la, lb := utf8.RuneCountInString(cands[a].term), utf8.RuneCountInString(cands[b].term); la != lb {
			return la > lb
		}
		return cands[a].term < cands[b].term
	})

	title := cases.Title(e.cfg.locale)
	covered := make(map[string]struct{})
	out := make([]string, 0, e.cfg.maxTopics)
	for _, c := range cands {
		if _, dup := covered[c.term]; dup {
			continue
		}
		out = append(out, title.String(c.term))
		covered[c.term] = struct{}{}
		if c.words == 2 {
			for _, w := range strings.Fields(c.term) {
				covered[w] = struct{}{}
			}
		}
		if len(out) >= e.cfg.maxTopics {
			break
		}
	}
	return out
}

func (e *Extractor) keep(w string) bool {
	if utf8.RuneCountInString(w) < e.cfg.minRunes {
		return false
	}
	if _, stop := e.cfg.stopwords[w]; stop {
		return false
	}
	return true
}

// Letters with optional trailing digits, e.g. "iso9001".
var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

var defaultStopwords = func() map[string]struct{} {
	words := []string{
		"about", "above", "after", "again", "also", "because", "been", "before", "being",
		"below", "between", "both", "could", "does", "doing", "during", "each", "from",
		"further", "have", "having", "here", "into", "just", "more", "most", "much",
		"need", "only", "other", "over", "same", "should", "some", "such", "than",
		"that", "their", "them", "then", "there", "these", "they", "this", "those",
		"through", "very", "want", "were", "what", "when", "where", "which", "while",
		"will", "with", "would", "your", "yours", "please", "thank", "thanks", "like",
		"make", "help", "know", "using", "used", "solution", "problem", "prompt",
		"refined", "satisfied", "session", "engineering", "coach", "continue",
		"explore", "aspects", "refining", "wish",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
