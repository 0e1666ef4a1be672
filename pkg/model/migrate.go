package model

import (
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// legacyFact covers every field name used by earlier schema versions.
// v1 used first_mentioned/last_updated; v2 uses first_seen/last_seen.
type legacyFact struct {
	Type           FactType  `json:"type"`
	Subject        string    `json:"subject"`
	Value          string    `json:"value"`
	Sentiment      Sentiment `json:"sentiment"`
	Confidence     *float64  `json:"confidence"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	FirstMentioned time.Time `json:"first_mentioned"`
	LastUpdated    time.Time `json:"last_updated"`
}

type legacyFactSet struct {
	UserID        UserID       `json:"user_id"`
	SchemaVersion int          `json:"schema_version"`
	Version       int64        `json:"version"`
	Facts         []legacyFact `json:"facts"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Disabled      bool         `json:"disabled"`
}

// DecodeFactSet parses a serialized fact set and migrates it to CurrentSchemaVersion.
// A schema newer than this build understands is rejected rather than rewritten.
func DecodeFactSet(data []byte) (*FactSet, error) {
	var raw legacyFactSet
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, goerr.Wrap(err, "failed to decode fact set")
	}
	if raw.SchemaVersion > CurrentSchemaVersion {
		return nil, goerr.Wrap(ErrUnsupportedSchema, "fact set written by newer schema",
			goerr.V("schema_version", raw.SchemaVersion),
			goerr.V("supported", CurrentSchemaVersion))
	}

	set := &FactSet{
		UserID:        raw.UserID,
		SchemaVersion: CurrentSchemaVersion,
		Version:       raw.Version,
		Facts:         make([]Fact, 0, len(raw.Facts)),
		UpdatedAt:     raw.UpdatedAt,
		Disabled:      raw.Disabled,
	}
	for _, lf := range raw.Facts {
		f := Fact{
			Type:       lf.Type,
			Subject:    lf.Subject,
			Value:      lf.Value,
			Sentiment:  lf.Sentiment,
			Confidence: DefaultConfidence,
			FirstSeen:  lf.FirstSeen,
			LastSeen:   lf.LastSeen,
		}
		if lf.Confidence != nil {
			f.Confidence = *lf.Confidence
		}
		if f.FirstSeen.IsZero() {
			f.FirstSeen = lf.FirstMentioned
		}
		if f.LastSeen.IsZero() {
			f.LastSeen = lf.LastUpdated
		}
		if f.LastSeen.IsZero() {
			f.LastSeen = f.FirstSeen
		}
		set.Facts = append(set.Facts, f.Normalized())
	}

	return set, nil
}

// EncodeFactSet serializes the fact set at CurrentSchemaVersion
func EncodeFactSet(set *FactSet) ([]byte, error) {
	out := *set
	out.SchemaVersion = CurrentSchemaVersion
	if out.Facts == nil {
		out.Facts = []Fact{}
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode fact set", goerr.V("user_id", set.UserID))
	}
	return data, nil
}

// Migrate upgrades an in-memory fact set loaded from a structured store
func Migrate(set *FactSet) (*FactSet, error) {
	if set == nil {
		return nil, nil
	}
	if set.SchemaVersion > CurrentSchemaVersion {
		return nil, goerr.Wrap(ErrUnsupportedSchema, "fact set written by newer schema",
			goerr.V("schema_version", set.SchemaVersion),
			goerr.V("supported", CurrentSchemaVersion))
	}
	out := set.Clone()
	for i := range out.Facts {
		if out.Facts[i].LastSeen.IsZero() {
			out.Facts[i].LastSeen = out.Facts[i].FirstSeen
		}
		out.Facts[i] = out.Facts[i].Normalized()
	}
	out.SchemaVersion = CurrentSchemaVersion
	return out, nil
}
