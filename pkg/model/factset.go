package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// CurrentSchemaVersion is the layout of FactSet this build writes
const CurrentSchemaVersion = 2

var (
	ErrUnsupportedSchema = goerr.New("unsupported fact set schema version")
)

type UserID string

// FactSet is the persisted, authoritative fact list of a single user
type FactSet struct {
	UserID        UserID    `json:"user_id" firestore:"user_id"`
	SchemaVersion int       `json:"schema_version" firestore:"schema_version"`
	Version       int64     `json:"version" firestore:"version"`
	Facts         []Fact    `json:"facts" firestore:"facts"`
	UpdatedAt     time.Time `json:"updated_at" firestore:"updated_at"`
	// Disabled is the user's opt-out: no context is injected and no update runs
	Disabled bool `json:"disabled,omitempty" firestore:"disabled"`
}

// NewFactSet returns an empty fact set for the user at the current schema
func NewFactSet(userID UserID) *FactSet {
	return &FactSet{
		UserID:        userID,
		SchemaVersion: CurrentSchemaVersion,
		Facts:         []Fact{},
	}
}

// Clone returns a deep copy of the fact set
func (s *FactSet) Clone() *FactSet {
	if s == nil {
		return nil
	}
	out := *s
	out.Facts = make([]Fact, len(s.Facts))
	copy(out.Facts, s.Facts)
	return &out
}
