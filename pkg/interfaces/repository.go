package interfaces

import (
	"context"

	"github.com/m-mizutani/memento/pkg/model"
)

// Repository defines the interface for fact set persistence
type Repository interface {
	// GetFactSet returns the stored fact set of the user, migrated to the current
	// schema. A user without stored facts gets an empty set with Version 0.
	GetFactSet(ctx context.Context, userID model.UserID) (*model.FactSet, error)

	// PutFactSet stores set only if the stored version still equals
	// expectedVersion, and sets set.Version to expectedVersion+1 on success.
	// A mismatch returns repository.ErrConflict.
	PutFactSet(ctx context.Context, set *model.FactSet, expectedVersion int64) error

	// DeleteFactSet removes everything stored for the user
	DeleteFactSet(ctx context.Context, userID model.UserID) error
}
