// Package search provides the interest index: a concurrency-safe, in-memory
// mapping from users to their normalized interest keywords, and the reverse
// mapping from keywords to users used to match notification text.
//
//   - No logging in the library (callers decide how/what to log)
//   - Functional options for clock and tokenization behavior
//   - Inverted index (keyword → users) maintained incrementally on mutation
//   - Aho-Corasick automaton over the keyword vocabulary, rebuilt lazily on
//     the first match after the vocabulary changes
//   - Deterministic results (users ordered by registration)
//
// Matching is substring containment, not token equality: the keyword "cat"
// matches "category". This is a known source of false positives and is kept
// on purpose because registered users rely on it.
package search

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	goahocorasick "github.com/anknown/ahocorasick"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrInvalidInterestSet is returned when a keyword set is empty after
// normalization. A user must declare at least one interest.
var ErrInvalidInterestSet = errors.New("interest set is empty")

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	now         func() time.Time
	maxKeywords int
	maxRunes    int
}

func defaultConfig() config {
	return config{
		now:         func() time.Time { return time.Now().UTC() },
		maxKeywords: 50,
		maxRunes:    64,
	}
}

// WithClock overrides the clock used to stamp registrations.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMaxKeywords caps how many keywords a single user may hold. Extra
// keywords (after de-duplication, in input order) are dropped.
func WithMaxKeywords(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxKeywords = n
		}
	}
}

// WithMaxKeywordRunes drops keywords longer than n runes.
func WithMaxKeywordRunes(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxRunes = n
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type entry struct {
	keywords     []string
	registeredAt time.Time
	seq          uint64
}

// Index is the interest index. The zero value is not usable; use NewIndex.
type Index struct {
	cfg config

	mu       sync.RWMutex
	users    map[string]*entry
	postings map[string]map[string]struct{}
	seq      uint64

	machine *goahocorasick.Machine
	dirty   bool
}

// NewIndex returns an empty index.
func NewIndex(opts ...Option) *Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Index{
		cfg:      cfg,
		users:    make(map[string]*entry),
		postings: make(map[string]map[string]struct{}),
	}
}

// Normalize lower-cases, trims, splits comma-separated entries, drops empty
// tokens and de-duplicates keywords, preserving first-seen order. It returns
// ErrInvalidInterestSet when nothing survives.
func (i *Index) Normalize(raw []string) ([]string, error) {
	return normalizeKeywords(raw, i.cfg.maxKeywords, i.cfg.maxRunes)
}

// Register replaces the keyword set of userID and returns the normalized
// keywords. The registration timestamp is set on first registration and kept
// on later updates. The index is left untouched on error.
func (i *Index) Register(userID string, keywords []string) ([]string, error) {
	norm, err := i.Normalize(keywords)
	if err != nil {
		return nil, err
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	e, ok := i.users[userID]
	if !ok {
		i.seq++
		e = &entry{registeredAt: i.cfg.now(), seq: i.seq}
		i.users[userID] = e
	}
	i.replace(userID, e, norm)
	return append([]string(nil), norm...), nil
}

// Restore loads a user with a known registration timestamp, as read back
// from storage. Users restored in ascending registration order keep that
// order as their tiebreak sequence.
func (i *Index) Restore(userID string, keywords []string, registeredAt time.Time) error {
	norm, err := i.Normalize(keywords)
	if err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	e, ok := i.users[userID]
	if !ok {
		i.seq++
		e = &entry{seq: i.seq}
		i.users[userID] = e
	}
	e.registeredAt = registeredAt.UTC()
	i.replace(userID, e, norm)
	return nil
}

// Remove drops userID from the index. It reports whether the user existed.
func (i *Index) Remove(userID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	e, ok := i.users[userID]
	if !ok {
		return false
	}
	for _, kw := range e.keywords {
		i.unpost(kw, userID)
	}
	delete(i.users, userID)
	return true
}

// Keywords returns a copy of the user's keyword set.
func (i *Index) Keywords(userID string) ([]string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	e, ok := i.users[userID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), e.keywords...), true
}

// RegisteredAt returns the registration timestamp and the tiebreak sequence
// number of userID.
func (i *Index) RegisteredAt(userID string) (time.Time, uint64, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	e, ok := i.users[userID]
	if !ok {
		return time.Time{}, 0, false
	}
	return e.registeredAt, e.seq, true
}

// Stats returns the number of indexed users and distinct keywords.
func (i *Index) Stats() (users, keywords int) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.users), len(i.postings)
}

// Match returns every user holding at least one keyword that occurs in text,
// compared case-insensitively. Users are ordered by registration time, then
// by registration sequence.
func (i *Index) Match(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	i.ensureMachine()

	content := []rune(lower(text))

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.machine == nil {
		return nil
	}

	hits := make(map[string]struct{})
	for _, term := range i.machine.MultiPatternSearch(content, false) {
		for uid := range i.postings[string(term.Word)] {
			hits[uid] = struct{}{}
		}
	}
	if len(hits) == 0 {
		return nil
	}

	out := make([]string, 0, len(hits))
	for uid := range hits {
		if _, ok := i.users[uid]; ok {
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		ea, eb := i.users[out[a]], i.users[out[b]]
		if !ea.registeredAt.Equal(eb.registeredAt) {
			return ea.registeredAt.Before(eb.registeredAt)
		}
		return ea.seq < eb.seq
	})
	return out
}

// replace swaps the postings of userID from its current keywords to norm.
// Callers hold the write lock.
func (i *Index) replace(userID string, e *entry, norm []string) {
	for _, kw := range e.keywords {
		i.unpost(kw, userID)
	}
	for _, kw := range norm {
		set, ok := i.postings[kw]
		if !ok {
			set = make(map[string]struct{})
			i.postings[kw] = set
			i.dirty = true
		}
		set[userID] = struct{}{}
	}
	e.keywords = norm
}

func (i *Index) unpost(kw, userID string) {
	set, ok := i.postings[kw]
	if !ok {
		return
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(i.postings, kw)
		i.dirty = true
	}
}

// ensureMachine rebuilds the automaton when the vocabulary changed since the
// last build.
func (i *Index) ensureMachine() {
	i.mu.RLock()
	dirty := i.dirty
	i.mu.RUnlock()
	if !dirty {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.dirty {
		return
	}
	i.dirty = false
	if len(i.postings) == 0 {
		i.machine = nil
		return
	}

	vocab := make([]string, 0, len(i.postings))
	for kw := range i.postings {
		vocab = append(vocab, kw)
	}
	sort.Strings(vocab)
	patterns := make([][]rune, len(vocab))
	for n, kw := range vocab {
		patterns[n] = []rune(kw)
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		// Build only fails on an empty pattern list, which is handled above.
		i.machine = nil
		return
	}
	i.machine = m
}

// ----------------------------------------------------------------------------
// Helpers

func normalizeKeywords(raw []string, maxKeywords, maxRunes int) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			kw := normalizeWhitespace(strings.TrimSpace(lower(part)))
			if kw == "" {
				continue
			}
			if maxRunes > 0 && len([]rune(kw)) > maxRunes {
				continue
			}
			if _, dup := seen[kw]; dup {
				continue
			}
			seen[kw] = struct{}{}
			out = append(out, kw)
			if maxKeywords > 0 && len(out) >= maxKeywords {
				return out, nil
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrInvalidInterestSet
	}
	return out, nil
}

// lower applies Unicode lower-casing. A Caser is stateful, so one is created
// per call.
func lower(s string) string {
	return cases.Lower(language.Und).String(s)
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
