package model

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidFact = goerr.New("invalid fact")
)

type FactType string

const (
	FactTypeIdentity     FactType = "identity"
	FactTypePreference   FactType = "preference"
	FactTypeOwnership    FactType = "ownership"
	FactTypeRelationship FactType = "relationship"
	FactTypeGoal         FactType = "goal"
	FactTypeSkill        FactType = "skill"
	FactTypeEvent        FactType = "event"
)

// FactTypes lists every supported fact type in rendering order
var FactTypes = []FactType{
	FactTypeIdentity,
	FactTypeOwnership,
	FactTypeRelationship,
	FactTypePreference,
	FactTypeSkill,
	FactTypeGoal,
	FactTypeEvent,
}

// Validate checks if the fact type is one of the supported types
func (t FactType) Validate() error {
	switch t {
	case FactTypeIdentity, FactTypePreference, FactTypeOwnership, FactTypeRelationship,
		FactTypeGoal, FactTypeSkill, FactTypeEvent:
		return nil
	default:
		return goerr.Wrap(ErrInvalidFact, "unknown fact type", goerr.V("type", t))
	}
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Normalize returns a valid sentiment; unknown or empty values become neutral
func (s Sentiment) Normalize() Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(string(s)))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// FactOp tags a candidate fact proposed by the extraction oracle. It is never persisted.
type FactOp string

const (
	FactOpAssert FactOp = ""
	FactOpRemove FactOp = "remove"
	FactOpClear  FactOp = "clear"
)

// DefaultConfidence is applied when the oracle omits confidence
const DefaultConfidence = 0.8

// Fact is a single structured statement about a user
type Fact struct {
	Type       FactType  `json:"type" firestore:"type"`
	Subject    string    `json:"subject" firestore:"subject"`
	Value      string    `json:"value" firestore:"value"`
	Sentiment  Sentiment `json:"sentiment" firestore:"sentiment"`
	Confidence float64   `json:"confidence" firestore:"confidence"`
	FirstSeen  time.Time `json:"first_seen" firestore:"first_seen"`
	LastSeen   time.Time `json:"last_seen" firestore:"last_seen"`

	Op FactOp `json:"-" firestore:"-"`
}

// Key returns the normalized (type, subject) identity of the fact
func (f Fact) Key() FactKey {
	return FactKey{Type: f.Type, Subject: NormalizeSubject(f.Subject)}
}

// SameValue reports whether both facts hold the same value, ignoring case and surrounding space
func (f Fact) SameValue(other Fact) bool {
	return strings.EqualFold(strings.TrimSpace(f.Value), strings.TrimSpace(other.Value))
}

// Validate checks structural validity of a fact. PII checks are done by pii.Validator.
func (f Fact) Validate() error {
	if f.Op == FactOpClear {
		return nil
	}
	if err := f.Type.Validate(); err != nil {
		return err
	}
	if NormalizeSubject(f.Subject) == "" {
		return goerr.Wrap(ErrInvalidFact, "subject is empty", goerr.V("type", f.Type))
	}
	if f.Op == FactOpAssert && strings.TrimSpace(f.Value) == "" {
		return goerr.Wrap(ErrInvalidFact, "value is empty", goerr.V("type", f.Type), goerr.V("subject", f.Subject))
	}
	return nil
}

// Normalized returns a copy with trimmed text, normalized sentiment and clamped confidence
func (f Fact) Normalized() Fact {
	f.Type = FactType(strings.ToLower(strings.TrimSpace(string(f.Type))))
	f.Subject = strings.TrimSpace(f.Subject)
	f.Value = strings.TrimSpace(f.Value)
	f.Sentiment = f.Sentiment.Normalize()
	f.Confidence = ClampConfidence(f.Confidence)
	return f
}

// ClampConfidence limits c into [0, 1]
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// NormalizeSubject lowercases and trims a subject for matching
func NormalizeSubject(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FactKey identifies the slot a non-history fact occupies
type FactKey struct {
	Type    FactType
	Subject string
}
