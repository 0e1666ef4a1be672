package reconcile

import (
	"strings"
	"unicode"

	"github.com/m-mizutani/memento/pkg/model"
)

// Words that describe the act of owning rather than the owned item
var fillerWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "my": {}, "our": {}, "his": {}, "her": {}, "their": {}, "its": {},
	"i": {}, "me": {}, "of": {}, "and": {}, "with": {}, "in": {}, "on": {}, "at": {}, "for": {},
	"from": {}, "to": {}, "by": {}, "new": {}, "old": {}, "used": {}, "brand": {},
	"own": {}, "owns": {}, "owned": {}, "owning": {}, "have": {}, "has": {}, "had": {}, "got": {},
	"bought": {}, "buy": {}, "purchased": {}, "purchase": {}, "sold": {}, "recently": {}, "just": {},
	"currently": {}, "still": {}, "one": {}, "redacted": {},
}

// itemTokens returns the significant tokens identifying an owned item:
// lowercase alphanumeric words without filler words and years.
func itemTokens(value string) []string {
	words := strings.FieldsFunc(strings.ToLower(value), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var tokens []string
	seen := map[string]bool{}
	for _, w := range words {
		if _, ok := fillerWords[w]; ok || isYear(w) || seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	return tokens
}

func isYear(w string) bool {
	if len(w) != 4 || (w[:2] != "19" && w[:2] != "20") {
		return false
	}
	for _, r := range w[2:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// itemMatch grades how surely two ownership facts name the same item
type itemMatch int

const (
	noMatch itemMatch = iota
	// same subject and one token set contains the other ("Corvette" and "2006 Corvette Z06")
	partialMatch
	// same significant tokens, under any subject ("car" and "vehicle")
	tokenMatch
	exactMatch
)

func matchItem(a, b model.Fact) itemMatch {
	if normalizeValue(a.Value) == normalizeValue(b.Value) {
		return exactMatch
	}
	ta, tb := itemTokens(a.Value), itemTokens(b.Value)
	if len(ta) == 0 || len(tb) == 0 {
		return noMatch
	}
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	if !subset(ta, tb) {
		return noMatch
	}
	if len(ta) == len(tb) {
		return tokenMatch
	}
	if model.NormalizeSubject(a.Subject) == model.NormalizeSubject(b.Subject) {
		return partialMatch
	}
	return noMatch
}

// bestItems returns the indexes of ownership facts in facts that match c at
// the highest grade found, with that grade
func bestItems(facts []model.Fact, c model.Fact) ([]int, itemMatch) {
	best := noMatch
	var idx []int
	for i, f := range facts {
		if f.Type != c.Type {
			continue
		}
		m := matchItem(f, c)
		switch {
		case m == noMatch || m < best:
		case m > best:
			best, idx = m, []int{i}
		default:
			idx = append(idx, i)
		}
	}
	return idx, best
}

func subset(small, large []string) bool {
	set := make(map[string]struct{}, len(large))
	for _, t := range large {
		set[t] = struct{}{}
	}
	for _, t := range small {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

func normalizeValue(v string) string {
	return strings.ToLower(strings.Join(strings.Fields(v), " "))
}
