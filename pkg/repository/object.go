package repository

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/adapter"
	"github.com/m-mizutani/memento/pkg/model"
)

// ObjectStore keeps one JSON object per user in an object storage bucket.
// The fact set version maps onto the object generation observed at read time.
type ObjectStore struct {
	storage adapter.Storage
	prefix  string

	mu          sync.Mutex
	generations map[model.UserID]generation
}

type generation struct {
	version    int64
	generation int64
}

func NewObjectStore(storage adapter.Storage, prefix string) *ObjectStore {
	return &ObjectStore{
		storage:     storage,
		prefix:      prefix,
		generations: make(map[model.UserID]generation),
	}
}

func (r *ObjectStore) key(userID model.UserID) string {
	return path.Join(r.prefix, "users", string(userID)+".json")
}

func (r *ObjectStore) GetFactSet(ctx context.Context, userID model.UserID) (*model.FactSet, error) {
	set, _, err := r.load(ctx, userID)
	return set, err
}

func (r *ObjectStore) load(ctx context.Context, userID model.UserID) (*model.FactSet, int64, error) {
	data, gen, err := r.storage.Get(ctx, r.key(userID))
	if err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			r.remember(userID, 0, 0)
			return model.NewFactSet(userID), 0, nil
		}
		return nil, 0, goerr.Wrap(ErrUnavailable, "failed to get fact set",
			goerr.V("error", err.Error()), goerr.V("user_id", userID))
	}

	set, err := model.DecodeFactSet(data)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "stored fact set is unreadable", goerr.V("user_id", userID))
	}
	set.UserID = userID
	r.remember(userID, set.Version, gen)
	return set, gen, nil
}

func (r *ObjectStore) remember(userID model.UserID, version, gen int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations[userID] = generation{version: version, generation: gen}
}

// lookup returns the object generation for a version seen by an earlier read.
// An unknown version is loaded again from storage.
func (r *ObjectStore) lookup(ctx context.Context, userID model.UserID, version int64) (int64, error) {
	r.mu.Lock()
	g, ok := r.generations[userID]
	r.mu.Unlock()
	if ok && g.version == version {
		return g.generation, nil
	}

	set, gen, err := r.load(ctx, userID)
	if err != nil {
		return 0, err
	}
	if set.Version != version {
		return 0, goerr.Wrap(ErrConflict, "version mismatch",
			goerr.V("user_id", userID),
			goerr.V("expected", version),
			goerr.V("actual", set.Version))
	}
	return gen, nil
}

func (r *ObjectStore) PutFactSet(ctx context.Context, set *model.FactSet, expectedVersion int64) error {
	gen, err := r.lookup(ctx, set.UserID, expectedVersion)
	if err != nil {
		return err
	}

	stored := set.Clone()
	stored.Version = expectedVersion + 1
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	data, err := model.EncodeFactSet(stored)
	if err != nil {
		return err
	}

	newGen, err := r.storage.Put(ctx, r.key(set.UserID), data, gen)
	if err != nil {
		if errors.Is(err, adapter.ErrPreconditionFailed) {
			return goerr.Wrap(ErrConflict, "fact set object changed",
				goerr.V("user_id", set.UserID), goerr.V("expected", expectedVersion))
		}
		return goerr.Wrap(ErrUnavailable, "failed to put fact set",
			goerr.V("error", err.Error()), goerr.V("user_id", set.UserID))
	}

	r.remember(set.UserID, stored.Version, newGen)
	set.Version = stored.Version
	set.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *ObjectStore) DeleteFactSet(ctx context.Context, userID model.UserID) error {
	if err := r.storage.Delete(ctx, r.key(userID)); err != nil {
		return goerr.Wrap(ErrUnavailable, "failed to delete fact set",
			goerr.V("error", err.Error()), goerr.V("user_id", userID))
	}
	r.remember(userID, 0, 0)
	return nil
}
