package model

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventFactsUpdated   EventKind = "facts_updated"
	EventUpdateSkipped  EventKind = "update_skipped"
	EventFactsRejected  EventKind = "facts_rejected"
	EventFactsForgotten EventKind = "facts_forgotten"
)

// Event is an operator notification about a memory update. It carries counts
// and reason labels only, never fact text or conversation content.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	UserID    UserID    `json:"user_id"`
	TurnID    TurnID    `json:"turn_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Added     int  `json:"added,omitempty"`
	Updated   int  `json:"updated,omitempty"`
	Refreshed int  `json:"refreshed,omitempty"`
	Removed   int  `json:"removed,omitempty"`
	Cleared   bool `json:"cleared,omitempty"`
	Rejected  int  `json:"rejected,omitempty"`
	Total     int  `json:"total,omitempty"`

	Reason  string   `json:"reason,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
}

// NewEvent creates an event with a fresh ID and the current time
func NewEvent(kind EventKind, userID UserID, turnID TurnID) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		UserID:    userID,
		TurnID:    turnID,
		Timestamp: time.Now().UTC(),
	}
}
