// Package reconcile merges candidate facts proposed for one conversation turn
// into a user's existing fact set.
//
// Rules per candidate, in order:
//   - clear drops every fact (or every fact of the candidate's type)
//   - remove drops facts of the same slot, narrowed to the given value when one matches
//   - a restated value only refreshes last_seen
//   - history types (preference by default) append a new timestamped entry
//   - other types replace value, sentiment and confidence of the slot in place
//   - anything else is inserted
//
// A slot is (type, subject), except for ownership where it is the owned item
// itself, so a Corvette and a Tesla are two facts. An owned item matches a
// shorter name for it only under the same subject, and a candidate that fits
// several items equally well touches none of them. The result is the complete
// replacement set in insertion order. Merge performs no I/O.
package reconcile

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
)

var (
	ErrInvalidOption = goerr.New("invalid reconcile option")
)

// TieBreak selects the surviving candidate when one turn proposes
// different values for the same slot
type TieBreak string

const (
	// TieBreakLast keeps the last-listed candidate
	TieBreakLast TieBreak = "last"
	// TieBreakConfidence keeps the most confident candidate, last-listed on ties
	TieBreakConfidence TieBreak = "confidence"
)

func (t TieBreak) Validate() error {
	switch t {
	case TieBreakLast, TieBreakConfidence:
		return nil
	default:
		return goerr.Wrap(ErrInvalidOption, "unknown tie-break", goerr.V("tie_break", t))
	}
}

const DefaultBucketSize = time.Minute

// Engine holds merge settings. It has no mutable state and is safe for concurrent use.
type Engine struct {
	historyTypes map[model.FactType]bool
	bucket       time.Duration
	tieBreak     TieBreak
}

type Option func(*Engine)

// WithHistoryTypes replaces the set of history-preserving fact types
func WithHistoryTypes(types ...model.FactType) Option {
	return func(e *Engine) {
		e.historyTypes = make(map[model.FactType]bool, len(types))
		for _, t := range types {
			e.historyTypes[t] = true
		}
	}
}

// WithBucketSize sets the window in which restating an older history value refreshes it instead of appending
func WithBucketSize(d time.Duration) Option {
	return func(e *Engine) {
		e.bucket = d
	}
}

func WithTieBreak(t TieBreak) Option {
	return func(e *Engine) {
		e.tieBreak = t
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		historyTypes: map[model.FactType]bool{model.FactTypePreference: true},
		bucket:       DefaultBucketSize,
		tieBreak:     TieBreakLast,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bucket <= 0 {
		e.bucket = DefaultBucketSize
	}
	if e.tieBreak == "" {
		e.tieBreak = TieBreakLast
	}
	return e
}

// IsHistoryType reports whether entries of t are appended rather than replaced
func (e *Engine) IsHistoryType(t model.FactType) bool {
	return e.historyTypes[t]
}

// Stats counts what a merge did
type Stats struct {
	Added     int
	Updated   int
	Refreshed int
	Removed   int
	Skipped   int
	Cleared   bool
}

// Changed reports whether the merge produced a different fact set apart from last_seen
func (s Stats) Changed() bool {
	return s.Added > 0 || s.Updated > 0 || s.Removed > 0 || s.Cleared
}

type Result struct {
	Facts []model.Fact
	Stats Stats
}

var defaultEngine = New()

// Merge applies candidates to existing with default settings
func Merge(existing, candidates []model.Fact, now time.Time) []model.Fact {
	return defaultEngine.Merge(existing, candidates, now).Facts
}

// Merge returns the fact set after applying candidates, in order, to existing.
// existing is not modified.
func (e *Engine) Merge(existing, candidates []model.Fact, now time.Time) *Result {
	out := make([]model.Fact, len(existing))
	copy(out, existing)

	var stats Stats
	for _, c := range e.prepare(candidates, &stats) {
		switch c.Op {
		case model.FactOpClear:
			var n int
			out, n = clearFacts(out, c.Type)
			stats.Removed += n
			if c.Type == "" {
				stats.Cleared = true
			}
		case model.FactOpRemove:
			var n int
			out, n = e.remove(out, c)
			stats.Removed += n
		default:
			out = e.assert(out, c, now, &stats)
		}
	}

	return &Result{Facts: out, Stats: stats}
}

func (e *Engine) prepare(candidates []model.Fact, stats *Stats) []model.Fact {
	valid := make([]model.Fact, 0, len(candidates))
	for _, c := range candidates {
		c = c.Normalized()
		switch c.Op {
		case model.FactOpClear:
			if c.Type != "" && c.Type.Validate() != nil {
				stats.Skipped++
				continue
			}
		case model.FactOpAssert, model.FactOpRemove:
			if err := c.Validate(); err != nil {
				stats.Skipped++
				continue
			}
		default:
			stats.Skipped++
			continue
		}
		valid = append(valid, c)
	}

	return e.resolveContradictions(valid, stats)
}

// resolveContradictions keeps one value per slot among consecutive asserts.
// A remove or clear in between separates the candidates.
func (e *Engine) resolveContradictions(candidates []model.Fact, stats *Stats) []model.Fact {
	dropped := make([]bool, len(candidates))
	for i := range candidates {
		if candidates[i].Op != model.FactOpAssert {
			continue
		}
		for j := i + 1; j < len(candidates) && !dropped[i]; j++ {
			cj := candidates[j]
			if cj.Op != model.FactOpAssert {
				break
			}
			if dropped[j] || !e.sameSlot(candidates[i], cj) || candidates[i].SameValue(cj) {
				continue
			}
			if e.tieBreak == TieBreakConfidence && candidates[i].Confidence > cj.Confidence {
				dropped[j] = true
			} else {
				dropped[i] = true
			}
			stats.Skipped++
		}
	}

	out := make([]model.Fact, 0, len(candidates))
	for i, c := range candidates {
		if !dropped[i] {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) sameSlot(a, b model.Fact) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type == model.FactTypeOwnership {
		return matchItem(a, b) != noMatch
	}
	return model.NormalizeSubject(a.Subject) == model.NormalizeSubject(b.Subject)
}

func (e *Engine) assert(out []model.Fact, c model.Fact, now time.Time, stats *Stats) []model.Fact {
	c.Op = model.FactOpAssert
	if e.historyTypes[c.Type] {
		return e.appendHistory(out, c, now, stats)
	}
	if c.Type == model.FactTypeOwnership {
		return e.assertItem(out, c, now, stats)
	}

	var matched []int
	for i := range out {
		if e.sameSlot(out[i], c) {
			matched = append(matched, i)
		}
	}
	if len(matched) == 0 {
		c.FirstSeen, c.LastSeen = now, now
		stats.Added++
		return append(out, c)
	}

	target := matched[0]
	for _, i := range matched {
		if out[i].SameValue(c) {
			target = i
			break
		}
	}

	restate(&out[target], c, now, stats)
	if len(matched) == 1 {
		return out
	}
	drop := make(map[int]bool, len(matched))
	for _, i := range matched {
		if i != target {
			drop[i] = true
		}
	}
	kept := out[:0]
	for i, f := range out {
		if !drop[i] {
			kept = append(kept, f)
		}
	}
	stats.Removed += len(drop)
	return kept
}

// assertItem updates the owned item c names. A candidate that fits several
// items equally well is kept as an item of its own and overwrites none of them.
func (e *Engine) assertItem(out []model.Fact, c model.Fact, now time.Time, stats *Stats) []model.Fact {
	idx, grade := bestItems(out, c)
	if len(idx) == 0 || (len(idx) > 1 && grade != exactMatch) {
		c.FirstSeen, c.LastSeen = now, now
		stats.Added++
		return append(out, c)
	}

	restate(&out[idx[0]], c, now, stats)
	return out
}

// restate refreshes f when c repeats its value and takes over c's value otherwise
func restate(f *model.Fact, c model.Fact, now time.Time, stats *Stats) {
	if f.SameValue(c) {
		f.LastSeen = now
		stats.Refreshed++
		return
	}
	f.Value = c.Value
	f.Sentiment = c.Sentiment
	f.Confidence = c.Confidence
	f.LastSeen = now
	if f.FirstSeen.IsZero() {
		f.FirstSeen = now
	}
	stats.Updated++
}

func (e *Engine) appendHistory(out []model.Fact, c model.Fact, now time.Time, stats *Stats) []model.Fact {
	latest := -1
	for i := range out {
		if e.sameSlot(out[i], c) {
			latest = i
		}
	}

	if latest >= 0 && out[latest].SameValue(c) {
		out[latest].LastSeen = now
		stats.Refreshed++
		return out
	}

	bucket := now.Truncate(e.bucket)
	for i := range out {
		if e.sameSlot(out[i], c) && out[i].SameValue(c) && out[i].LastSeen.Truncate(e.bucket).Equal(bucket) {
			out[i].LastSeen = now
			stats.Refreshed++
			return out
		}
	}

	c.FirstSeen, c.LastSeen = now, now
	stats.Added++
	return append(out, c)
}

func (e *Engine) remove(out []model.Fact, c model.Fact) ([]model.Fact, int) {
	if c.Type == model.FactTypeOwnership && strings.TrimSpace(c.Value) != "" {
		return removeItem(out, c)
	}

	subject := model.NormalizeSubject(c.Subject)
	inSlot := func(f model.Fact) bool {
		return f.Type == c.Type && model.NormalizeSubject(f.Subject) == subject
	}
	valueMatched := false
	if strings.TrimSpace(c.Value) != "" {
		for _, f := range out {
			if inSlot(f) && f.SameValue(c) {
				valueMatched = true
				break
			}
		}
	}

	// A value that matches nothing still means the user wants the slot gone
	kept := make([]model.Fact, 0, len(out))
	for _, f := range out {
		if !inSlot(f) || (valueMatched && !f.SameValue(c)) {
			kept = append(kept, f)
		}
	}
	return kept, len(out) - len(kept)
}

// removeItem drops the one owned item c names. Nothing is dropped when c fits
// several items equally well.
func removeItem(out []model.Fact, c model.Fact) ([]model.Fact, int) {
	idx, grade := bestItems(out, c)
	if len(idx) > 1 && grade != exactMatch {
		return out, 0
	}
	drop := make(map[int]bool, len(idx))
	for _, i := range idx {
		drop[i] = true
	}

	kept := make([]model.Fact, 0, len(out))
	for i, f := range out {
		if !drop[i] {
			kept = append(kept, f)
		}
	}
	return kept, len(drop)
}

func clearFacts(out []model.Fact, t model.FactType) ([]model.Fact, int) {
	if t == "" {
		return make([]model.Fact, 0), len(out)
	}
	kept := make([]model.Fact, 0, len(out))
	for _, f := range out {
		if f.Type != t {
			kept = append(kept, f)
		}
	}
	return kept, len(out) - len(kept)
}
