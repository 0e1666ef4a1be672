// Package pii finds, redacts and filters personally identifying information.
//
// Detection is pattern based and therefore best effort: it catches common
// surface forms (formatted identity numbers, card numbers, contact details,
// keyword-anchored identifiers) but cannot recognize PII phrased atypically.
// It is one defense layer among the scrubbing of oracle input, the per-fact
// validation before merge and the log redaction hook.
package pii

import (
	"sort"

	"github.com/m-mizutani/memento/pkg/model"
)

// Detector scans text for PII using an ordered set of rules. It holds no
// mutable state and is safe for concurrent use.
type Detector struct {
	rules []Rule
}

// NewDetector creates a detector evaluating rules in the given order
func NewDetector(rules ...Rule) *Detector {
	return &Detector{rules: rules}
}

// Rules returns names of the enabled rules in evaluation order
func (d *Detector) Rules() []string {
	names := make([]string, 0, len(d.rules))
	for _, r := range d.rules {
		names = append(names, r.Name)
	}
	return names
}

type candidate struct {
	match model.PIIMatch
	order int
}

// Detect returns every PII match in text ordered by position. Overlapping
// matches are resolved by keeping the longer span.
func (d *Detector) Detect(text string) []model.PIIMatch {
	if text == "" {
		return nil
	}

	var found []candidate
	for order, rule := range d.rules {
		for _, re := range rule.Patterns {
			group := re.SubexpIndex("pii")
			for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
				start, end := loc[0], loc[1]
				if group > 0 && loc[2*group] >= 0 {
					start, end = loc[2*group], loc[2*group+1]
				}
				if start == end {
					continue
				}
				matched := text[start:end]
				if rule.Validate != nil && !rule.Validate(matched) {
					continue
				}
				found = append(found, candidate{
					match: model.PIIMatch{
						Pattern: rule.Name,
						Label:   rule.Label,
						Text:    matched,
						Start:   start,
						End:     end,
					},
					order: order,
				})
			}
		}
	}

	return resolveOverlaps(found)
}

func resolveOverlaps(found []candidate) []model.PIIMatch {
	if len(found) == 0 {
		return nil
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.match.Len() != b.match.Len() {
			return a.match.Len() > b.match.Len()
		}
		if a.match.Start != b.match.Start {
			return a.match.Start < b.match.Start
		}
		return a.order < b.order
	})

	var kept []model.PIIMatch
	for _, c := range found {
		overlaps := false
		for _, k := range kept {
			if c.match.Start < k.End && k.Start < c.match.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c.match)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}
