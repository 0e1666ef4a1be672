package pii

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
)

type Mode string

const (
	// ModeRedact keeps a fact with PII spans replaced, unless its subject is blocked
	ModeRedact Mode = "redact"
	// ModeRemove drops any fact with a blocking reason
	ModeRemove Mode = "remove"
)

// Validate checks if the mode is known
func (m Mode) Validate() error {
	switch m {
	case ModeRedact, ModeRemove:
		return nil
	default:
		return goerr.Wrap(ErrInvalidConfig, "unknown validation mode", goerr.V("mode", m))
	}
}

const (
	ReasonBlockedSubject = "blocked subject"
	ReasonEmptyRedaction = "nothing left after redaction"
)

// DefaultBlockedSubjects are subjects a fact must never be about
var DefaultBlockedSubjects = []string{
	"ssn", "social security", "social security number", "social insurance number", "sin",
	"credit card", "credit card number", "card number", "debit card", "cvv", "cvc",
	"bank account", "account number", "routing number", "iban", "swift", "sort code",
	"passport", "passport number",
	"driver license", "drivers license", "driver licence", "license number",
	"government id", "national id", "tax id", "ein", "itin", "tin",
	"ip", "ip address", "mac address",
	"password", "pin",
}

// Validator decides whether a candidate fact may be stored
type Validator struct {
	detector *Detector
	scrubber *Scrubber
	mode     Mode
	blocked  [][]string
}

// NewValidator creates a validator. Blocked subjects are matched as whole words.
func NewValidator(detector *Detector, scrubber *Scrubber, mode Mode, blockedSubjects []string) *Validator {
	v := &Validator{
		detector: detector,
		scrubber: scrubber,
		mode:     mode,
	}
	for _, s := range blockedSubjects {
		if words := subjectWords(s); len(words) > 0 {
			v.blocked = append(v.blocked, words)
		}
	}
	return v
}

// Mode returns the configured validation mode
func (v *Validator) Mode() Mode {
	return v.mode
}

// Validate returns the admission decision for fact. Clean means the returned
// Fact may enter the merge; Reasons lists every check that fired, in order.
func (v *Validator) Validate(fact model.Fact) model.ValidationResult {
	var reasons []string
	subjectBlocked := v.isBlockedSubject(fact.Subject)
	if subjectBlocked {
		reasons = append(reasons, ReasonBlockedSubject)
	}

	subjectMatches := v.detector.Detect(fact.Subject)
	valueMatches := v.detector.Detect(fact.Value)
	for _, m := range subjectMatches {
		reasons = appendUnique(reasons, m.Label)
	}
	for _, m := range valueMatches {
		reasons = appendUnique(reasons, m.Label)
	}

	if len(reasons) == 0 {
		return model.ValidationResult{Clean: true, Fact: fact}
	}

	if subjectBlocked || v.mode != ModeRedact {
		return model.ValidationResult{Clean: false, Reasons: reasons, Fact: fact}
	}

	scrubbed := fact
	if len(subjectMatches) > 0 {
		scrubbed.Subject = v.scrubber.Scrub(fact.Subject)
	}
	if len(valueMatches) > 0 {
		scrubbed.Value = v.scrubber.Scrub(fact.Value)
	}

	// A redacted subject no longer names a slot
	if len(subjectMatches) > 0 {
		return model.ValidationResult{Clean: false, Reasons: reasons, Fact: scrubbed}
	}
	// A remove whose value is all tokens no longer names the item to drop
	if fact.Op != model.FactOpClear && v.scrubber.onlyRedacted(scrubbed.Value) {
		return model.ValidationResult{
			Clean:   false,
			Reasons: appendUnique(reasons, ReasonEmptyRedaction),
			Fact:    scrubbed,
		}
	}

	return model.ValidationResult{Clean: true, Reasons: reasons, Fact: scrubbed}
}

func (v *Validator) isBlockedSubject(subject string) bool {
	words := subjectWords(subject)
	joined := strings.Join(words, "")
	for _, b := range v.blocked {
		if containsWords(words, b) {
			return true
		}
		// "socialsecurity" or "s.s.n" written without word breaks
		compact := strings.Join(b, "")
		if joined == compact || (len(b) > 1 && strings.Contains(joined, compact)) {
			return true
		}
	}
	return false
}

func subjectWords(s string) []string {
	s = model.NormalizeSubject(s)
	s = strings.NewReplacer("'", "", "\u2019", "").Replace(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
}

// containsWords reports whether needle appears as a contiguous word run in words
func containsWords(words, needle []string) bool {
	for i := 0; i+len(needle) <= len(words); i++ {
		match := true
		for j := range needle {
			if words[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
