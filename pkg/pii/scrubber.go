package pii

import (
	"sort"
	"strings"

	"github.com/m-mizutani/memento/pkg/model"
)

// DefaultRedactionToken replaces every detected PII span
const DefaultRedactionToken = "[REDACTED]"

// Redaction can splice fragments into something a rule matches again, so
// scrubbing repeats until the detector is silent.
const maxScrubPasses = 4

// Scrubber redacts PII from free text
type Scrubber struct {
	detector *Detector
	token    string
}

// NewScrubber creates a scrubber replacing matches of detector with token
func NewScrubber(detector *Detector, token string) *Scrubber {
	if token == "" {
		token = DefaultRedactionToken
	}
	return &Scrubber{detector: detector, token: token}
}

// Token returns the redaction token
func (s *Scrubber) Token() string {
	return s.token
}

// Scrub replaces every detected PII span in text with the redaction token.
// Scrub(Scrub(t)) == Scrub(t).
func (s *Scrubber) Scrub(text string) string {
	for i := 0; i < maxScrubPasses; i++ {
		matches := s.detector.Detect(text)
		if len(matches) == 0 {
			return text
		}
		text = redact(text, matches, s.token)
	}

	if len(s.detector.Detect(text)) > 0 {
		return s.token
	}
	return text
}

// redact replaces spans back to front so earlier offsets stay valid
func redact(text string, matches []model.PIIMatch, token string) string {
	sorted := make([]model.PIIMatch, len(matches))
	copy(sorted, matches)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	for _, m := range sorted {
		text = text[:m.Start] + token + text[m.End:]
	}
	return text
}

// onlyRedacted reports whether nothing meaningful is left once tokens are removed
func (s *Scrubber) onlyRedacted(text string) bool {
	rest := strings.ReplaceAll(text, s.token, "")
	return strings.TrimFunc(rest, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r > 127)
	}) == ""
}
