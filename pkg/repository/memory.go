package repository

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
)

// Memory keeps fact sets in process memory. It is used by tests and the chat
// command when no durable store is configured.
type Memory struct {
	mu   sync.Mutex
	sets map[model.UserID]*model.FactSet
}

func NewMemory() *Memory {
	return &Memory{sets: make(map[model.UserID]*model.FactSet)}
}

func (r *Memory) GetFactSet(ctx context.Context, userID model.UserID) (*model.FactSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sets[userID]
	if !ok {
		return model.NewFactSet(userID), nil
	}
	return set.Clone(), nil
}

func (r *Memory) PutFactSet(ctx context.Context, set *model.FactSet, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current int64
	if stored, ok := r.sets[set.UserID]; ok {
		current = stored.Version
	}
	if current != expectedVersion {
		return goerr.Wrap(ErrConflict, "version mismatch",
			goerr.V("user_id", set.UserID),
			goerr.V("expected", expectedVersion),
			goerr.V("actual", current))
	}

	stored := set.Clone()
	stored.SchemaVersion = model.CurrentSchemaVersion
	stored.Version = expectedVersion + 1
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	r.sets[set.UserID] = stored

	set.Version = stored.Version
	return nil
}

func (r *Memory) DeleteFactSet(ctx context.Context, userID model.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sets, userID)
	return nil
}
