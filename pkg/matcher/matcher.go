// Package matcher ranks capability descriptors against free-text user input
// using their declared activation triggers, with description overlap as a
// weak fallback signal.
package matcher

import (
	"sort"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

const (
	triggerWeight     = 2
	descriptionWeight = 1

	// DefaultMinTokenLength counts every token towards description overlap.
	// Raise it to keep words such as "a" or "to" from hitting almost every
	// description.
	DefaultMinTokenLength = 1
)

// Catalog is the read side of a registry the matcher needs
type Catalog interface {
	All() []*capability.Descriptor
}

// Matcher scores descriptors against user text. It holds no per-request
// state and is safe for concurrent use.
type Matcher struct {
	entries        []entry
	minTokenLength int
	limit          int
	cache          *lru.Cache[string, []capability.MatchCandidate]
}

type entry struct {
	id         string
	kind       capability.Kind
	triggers   []string // original spelling
	normalized []string // lowercased, trimmed
	descWords  map[string]struct{}
}

// Option configures a Matcher
type Option func(*Matcher)

// WithMinTokenLength sets the minimum token length considered for
// description overlap. Values below 1 are treated as 1.
func WithMinTokenLength(n int) Option {
	return func(m *Matcher) {
		if n < 1 {
			n = 1
		}
		m.minTokenLength = n
	}
}

// WithLimit caps the number of candidates returned. Zero means unlimited.
func WithLimit(n int) Option {
	return func(m *Matcher) {
		if n < 0 {
			n = 0
		}
		m.limit = n
	}
}

// WithCacheSize keeps the results of the n most recent distinct inputs.
// Zero disables caching.
func WithCacheSize(n int) Option {
	return func(m *Matcher) {
		m.cache = nil
		if n <= 0 {
			return
		}
		if cache, err := lru.New[string, []capability.MatchCandidate](n); err == nil {
			m.cache = cache
		}
	}
}

// New builds a Matcher over every descriptor in catalog
func New(catalog Catalog, opts ...Option) *Matcher {
	m := &Matcher{minTokenLength: DefaultMinTokenLength}
	for _, opt := range opts {
		opt(m)
	}

	for _, d := range catalog.All() {
		e := entry{
			id:        d.ID,
			kind:      d.Kind,
			descWords: make(map[string]struct{}),
		}
		for _, w := range splitWords(strings.ToLower(d.Description)) {
			e.descWords[w] = struct{}{}
		}
		for _, t := range d.ActivationTriggers {
			n := strings.ToLower(strings.TrimSpace(t))
			if n == "" {
				continue
			}
			e.triggers = append(e.triggers, t)
			e.normalized = append(e.normalized, n)
		}
		m.entries = append(m.entries, e)
	}
	return m
}

// Match returns candidates with a positive score, highest first. Ties are
// broken by kind (skill, agent, command) and then by id. Empty input never
// matches.
func (m *Matcher) Match(text string) []capability.MatchCandidate {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return nil
	}
	if m.cache != nil {
		if cached, ok := m.cache.Get(normalized); ok {
			return cloneCandidates(cached)
		}
	}
	tokens := m.tokenize(normalized)

	type scored struct {
		candidate capability.MatchCandidate
		kind      capability.Kind
	}
	var results []scored

	for _, e := range m.entries {
		score := 0
		var matched []string
		for i, trigger := range e.normalized {
			if strings.Contains(normalized, trigger) {
				score += triggerWeight
				matched = append(matched, e.triggers[i])
			}
		}
		if anyTokenIn(tokens, e.descWords) {
			score += descriptionWeight
		}
		if score == 0 {
			continue
		}
		results = append(results, scored{
			candidate: capability.MatchCandidate{DescriptorID: e.id, Score: score, MatchedTriggers: matched},
			kind:      e.kind,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.candidate.Score != b.candidate.Score {
			return a.candidate.Score > b.candidate.Score
		}
		if a.kind.Rank() != b.kind.Rank() {
			return a.kind.Rank() < b.kind.Rank()
		}
		return a.candidate.DescriptorID < b.candidate.DescriptorID
	})

	if m.limit > 0 && len(results) > m.limit {
		results = results[:m.limit]
	}

	out := make([]capability.MatchCandidate, len(results))
	for i, r := range results {
		out[i] = r.candidate
	}
	if m.cache != nil {
		m.cache.Add(normalized, cloneCandidates(out))
	}
	return out
}

func cloneCandidates(in []capability.MatchCandidate) []capability.MatchCandidate {
	out := make([]capability.MatchCandidate, len(in))
	for i, c := range in {
		out[i] = c
		out[i].MatchedTriggers = append([]string(nil), c.MatchedTriggers...)
	}
	return out
}

// tokenize splits on anything that is not a letter or digit and drops
// duplicates and tokens shorter than the configured minimum
func (m *Matcher) tokenize(text string) []string {
	fields := splitWords(text)

	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < m.minTokenLength {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func anyTokenIn(tokens []string, words map[string]struct{}) bool {
	for _, t := range tokens {
		if _, ok := words[t]; ok {
			return true
		}
	}
	return false
}
