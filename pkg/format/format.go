// Package format renders a fact set into the text block injected into a
// conversation. Rendering is pure: the same facts and style always give the
// same text.
package format

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
)

var (
	ErrInvalidStyle = goerr.New("invalid format style")
)

type Style string

const (
	StyleStructured Style = "structured"
	StyleNatural    Style = "natural"
	StyleBullet     Style = "bullet"
)

func (s Style) Validate() error {
	switch s {
	case StyleStructured, StyleNatural, StyleBullet:
		return nil
	default:
		return goerr.Wrap(ErrInvalidStyle, "unknown style", goerr.V("style", s))
	}
}

const (
	DefaultMaxCount = 10
	dateLayout      = "2006-01-02"
	chainArrow      = " → "
)

type Formatter struct {
	historyTypes map[model.FactType]bool
}

type Option func(*Formatter)

// WithHistoryTypes sets the types whose entries for one subject render as an evolution chain
func WithHistoryTypes(types ...model.FactType) Option {
	return func(f *Formatter) {
		f.historyTypes = make(map[model.FactType]bool, len(types))
		for _, t := range types {
			f.historyTypes[t] = true
		}
	}
}

func New(opts ...Option) *Formatter {
	f := &Formatter{
		historyTypes: map[model.FactType]bool{model.FactTypePreference: true},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var defaultFormatter = New()

// Format renders facts with default settings
func Format(facts []model.Fact, maxCount int, style Style) string {
	return defaultFormatter.Format(facts, maxCount, style)
}

// entry is one rendered line: a single fact, or every history entry of one subject
type entry struct {
	facts  []model.Fact
	recent time.Time
	order  int
}

func (e *entry) head() model.Fact {
	return e.facts[len(e.facts)-1]
}

func (e *entry) isChain() bool {
	return len(e.facts) > 1
}

// Format selects at most maxCount entries, most recently updated first, and
// renders them. An evolution chain counts as one entry. maxCount <= 0 means no
// limit. Unknown styles fall back to structured.
func (f *Formatter) Format(facts []model.Fact, maxCount int, style Style) string {
	entries := f.selectEntries(facts, maxCount)
	if len(entries) == 0 {
		return ""
	}

	switch style {
	case StyleNatural:
		return "Based on previous conversations, I know the following about you:\n\n" +
			strings.Join(summaryLines(entries), "\n") +
			"\n\nI'll use this context to personalize my responses."
	case StyleBullet:
		lines := summaryLines(entries)
		for i := range lines {
			lines[i] = "- " + lines[i]
		}
		return "Previous conversations revealed:\n" + strings.Join(lines, "\n")
	default:
		return structured(entries)
	}
}

func (f *Formatter) selectEntries(facts []model.Fact, maxCount int) []*entry {
	var entries []*entry
	chains := map[model.FactKey]*entry{}

	for i, fact := range facts {
		if f.historyTypes[fact.Type] {
			key := fact.Key()
			if e, ok := chains[key]; ok {
				e.facts = append(e.facts, fact)
				if fact.LastSeen.After(e.recent) {
					e.recent = fact.LastSeen
				}
				e.order = i
				continue
			}
			e := &entry{facts: []model.Fact{fact}, recent: fact.LastSeen, order: i}
			chains[key] = e
			entries = append(entries, e)
			continue
		}
		entries = append(entries, &entry{facts: []model.Fact{fact}, recent: fact.LastSeen, order: i})
	}

	for _, e := range entries {
		if e.isChain() {
			sort.SliceStable(e.facts, func(i, j int) bool {
				return e.facts[i].FirstSeen.Before(e.facts[j].FirstSeen)
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].recent.Equal(entries[j].recent) {
			return entries[i].recent.After(entries[j].recent)
		}
		return entries[i].order > entries[j].order
	})

	if maxCount > 0 && len(entries) > maxCount {
		entries = entries[:maxCount]
	}
	return entries
}

func byType(entries []*entry) map[model.FactType][]*entry {
	grouped := map[model.FactType][]*entry{}
	for _, e := range entries {
		t := e.head().Type
		grouped[t] = append(grouped[t], e)
	}
	return grouped
}

func chain(e *entry) string {
	parts := make([]string, len(e.facts))
	for i, f := range e.facts {
		parts[i] = f.Value
		if !f.FirstSeen.IsZero() {
			parts[i] += " (" + f.FirstSeen.Format(dateLayout) + ")"
		}
	}
	return strings.Join(parts, chainArrow)
}

var structuredSections = []struct {
	typ    model.FactType
	header string
}{
	{model.FactTypeIdentity, "About You:"},
	{model.FactTypeOwnership, "You Own:"},
	{model.FactTypeRelationship, "Relationships:"},
	{model.FactTypePreference, "Preferences:"},
	{model.FactTypeSkill, "Skills/Interests:"},
	{model.FactTypeGoal, "Goals:"},
	{model.FactTypeEvent, "Important Dates:"},
}

func structured(entries []*entry) string {
	grouped := byType(entries)

	var b strings.Builder
	b.WriteString("=== USER MEMORY PROFILE ===\n")
	for _, sec := range structuredSections {
		list := grouped[sec.typ]
		if len(list) == 0 {
			continue
		}
		b.WriteString("\n" + sec.header + "\n")
		for _, e := range list {
			b.WriteString("  - " + structuredLine(e) + "\n")
		}
	}
	b.WriteString("\n=== END MEMORY PROFILE ===")
	return b.String()
}

func structuredLine(e *entry) string {
	f := e.head()
	if e.isChain() {
		return titleCase(f.Subject) + ": " + chain(e)
	}

	switch f.Type {
	case model.FactTypeOwnership, model.FactTypeSkill, model.FactTypeGoal:
		return f.Value
	case model.FactTypePreference:
		switch f.Sentiment {
		case model.SentimentPositive:
			return "Likes: " + f.Value
		case model.SentimentNegative:
			return "Dislikes: " + f.Value
		}
	}
	return titleCase(f.Subject) + ": " + f.Value
}

var summarySections = []struct {
	typ   model.FactType
	label string
}{
	{model.FactTypeIdentity, "Identity"},
	{model.FactTypeOwnership, "Owns"},
	{model.FactTypeRelationship, "Relationships"},
	{model.FactTypePreference, "Preferences"},
	{model.FactTypeGoal, "Goals"},
	{model.FactTypeSkill, "Skills"},
	{model.FactTypeEvent, "Events"},
}

func summaryLines(entries []*entry) []string {
	grouped := byType(entries)

	var lines []string
	for _, sec := range summarySections {
		list := grouped[sec.typ]
		if len(list) == 0 {
			continue
		}
		items := make([]string, len(list))
		for i, e := range list {
			items[i] = summaryItem(e)
		}
		lines = append(lines, sec.label+": "+strings.Join(items, ", "))
	}
	return lines
}

func summaryItem(e *entry) string {
	f := e.head()
	if e.isChain() {
		return f.Subject + ": " + chain(e)
	}

	switch f.Type {
	case model.FactTypeGoal:
		return f.Value
	case model.FactTypePreference:
		switch f.Sentiment {
		case model.SentimentPositive:
			return "likes " + f.Value
		case model.SentimentNegative:
			return "dislikes " + f.Value
		}
		return f.Value
	}
	return f.Subject + ": " + f.Value
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
