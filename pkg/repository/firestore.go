package repository

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection is the Firestore collection holding one document per user
const DefaultCollection = "fact_sets"

// Firestore stores each user's fact set as a single document and guards writes
// with a transaction that compares the stored version.
type Firestore struct {
	client     *firestore.Client
	collection string
}

type FirestoreOption func(*Firestore)

// WithCollection overrides DefaultCollection
func WithCollection(name string) FirestoreOption {
	return func(r *Firestore) {
		r.collection = name
	}
}

// NewFirestore creates a new Firestore repository
func NewFirestore(ctx context.Context, projectID, databaseID string, opts []option.ClientOption, fsOpts ...FirestoreOption) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, opts...)
	if err != nil {
		return nil, goerr.Wrap(ErrUnavailable, "failed to create firestore client",
			goerr.V("error", err.Error()),
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	r := &Firestore{
		client:     client,
		collection: DefaultCollection,
	}
	for _, opt := range fsOpts {
		opt(r)
	}
	return r, nil
}

// Close releases the underlying client
func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) doc(userID model.UserID) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(string(userID))
}

func (r *Firestore) GetFactSet(ctx context.Context, userID model.UserID) (*model.FactSet, error) {
	snap, err := r.doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return model.NewFactSet(userID), nil
		}
		return nil, goerr.Wrap(ErrUnavailable, "failed to get fact set",
			goerr.V("error", err.Error()), goerr.V("user_id", userID))
	}

	return decodeSnapshot(snap, userID)
}

func decodeSnapshot(snap *firestore.DocumentSnapshot, userID model.UserID) (*model.FactSet, error) {
	var set model.FactSet
	if err := snap.DataTo(&set); err != nil {
		return nil, goerr.Wrap(err, "failed to decode fact set document", goerr.V("user_id", userID))
	}
	set.UserID = userID
	return model.Migrate(&set)
}

func (r *Firestore) PutFactSet(ctx context.Context, set *model.FactSet, expectedVersion int64) error {
	ref := r.doc(set.UserID)

	stored := set.Clone()
	stored.SchemaVersion = model.CurrentSchemaVersion
	stored.Version = expectedVersion + 1
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	if stored.Facts == nil {
		stored.Facts = []model.Fact{}
	}

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current int64
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			current = 0
		case err != nil:
			return err
		default:
			v, err := snap.DataAt("version")
			if err != nil {
				return goerr.Wrap(err, "fact set document has no version")
			}
			if n, ok := v.(int64); ok {
				current = n
			}
		}

		if current != expectedVersion {
			return goerr.Wrap(ErrConflict, "version mismatch",
				goerr.V("user_id", set.UserID),
				goerr.V("expected", expectedVersion),
				goerr.V("actual", current))
		}
		return tx.Set(ref, stored)
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		return goerr.Wrap(ErrUnavailable, "failed to put fact set",
			goerr.V("error", err.Error()), goerr.V("user_id", set.UserID))
	}

	set.Version = stored.Version
	set.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *Firestore) DeleteFactSet(ctx context.Context, userID model.UserID) error {
	if _, err := r.doc(userID).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return goerr.Wrap(ErrUnavailable, "failed to delete fact set",
			goerr.V("error", err.Error()), goerr.V("user_id", userID))
	}
	return nil
}
