package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
	_ "modernc.org/sqlite"
)

// migrations are applied in order and recorded in memento_migrations
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS memento_fact_sets (
		user_id    TEXT PRIMARY KEY,
		version    BIGINT NOT NULL,
		data       TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
}

// SQL stores fact sets as JSON documents in a relational table with a version
// column used for compare-and-swap. It works on SQLite and PostgreSQL.
type SQL struct {
	db      *sql.DB
	dialect string
}

// NewSQLite opens (or creates) a SQLite database file
func NewSQLite(ctx context.Context, path string) (*SQL, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(ErrUnavailable, "failed to open sqlite",
			goerr.V("error", err.Error()), goerr.V("path", path))
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	return newSQL(ctx, db, "sqlite")
}

// NewPostgres connects to PostgreSQL with a pgx connection string
func NewPostgres(ctx context.Context, connStr string) (*SQL, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, goerr.Wrap(ErrUnavailable, "failed to open postgres", goerr.V("error", err.Error()))
	}
	return newSQL(ctx, db, "postgres")
}

func newSQL(ctx context.Context, db *sql.DB, dialect string) (*SQL, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(ErrUnavailable, "failed to connect database",
			goerr.V("error", err.Error()), goerr.V("dialect", dialect))
	}

	r := &SQL{db: db, dialect: dialect}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQL) migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS memento_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return goerr.Wrap(err, "failed to create migration table", goerr.V("dialect", r.dialect))
	}

	var applied int
	row := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM memento_migrations`)
	if err := row.Scan(&applied); err != nil {
		return goerr.Wrap(err, "failed to read migration version")
	}

	for i := applied; i < len(migrations); i++ {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return goerr.Wrap(err, "failed to begin migration")
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return goerr.Wrap(err, "failed to apply migration", goerr.V("version", i+1))
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO memento_migrations (version, applied_at) VALUES ($1, $2)`,
			i+1, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return goerr.Wrap(err, "failed to record migration", goerr.V("version", i+1))
		}
		if err := tx.Commit(); err != nil {
			return goerr.Wrap(err, "failed to commit migration", goerr.V("version", i+1))
		}
	}
	return nil
}

// Close closes the database
func (r *SQL) Close() error {
	return r.db.Close()
}

func (r *SQL) GetFactSet(ctx context.Context, userID model.UserID) (*model.FactSet, error) {
	var version int64
	var data string
	row := r.db.QueryRowContext(ctx, `SELECT version, data FROM memento_fact_sets WHERE user_id = $1`, string(userID))
	if err := row.Scan(&version, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.NewFactSet(userID), nil
		}
		return nil, goerr.Wrap(ErrUnavailable, "failed to get fact set",
			goerr.V("error", err.Error()), goerr.V("user_id", userID))
	}

	set, err := model.DecodeFactSet([]byte(data))
	if err != nil {
		return nil, goerr.Wrap(err, "stored fact set is unreadable", goerr.V("user_id", userID))
	}
	set.UserID = userID
	set.Version = version
	return set, nil
}

func (r *SQL) PutFactSet(ctx context.Context, set *model.FactSet, expectedVersion int64) error {
	stored := set.Clone()
	stored.Version = expectedVersion + 1
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	data, err := model.EncodeFactSet(stored)
	if err != nil {
		return err
	}
	updatedAt := stored.UpdatedAt.UTC().Format(time.RFC3339Nano)

	var result sql.Result
	if expectedVersion == 0 {
		result, err = r.db.ExecContext(ctx,
			`INSERT INTO memento_fact_sets (user_id, version, data, updated_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id) DO NOTHING`,
			string(set.UserID), stored.Version, string(data), updatedAt)
	} else {
		result, err = r.db.ExecContext(ctx,
			`UPDATE memento_fact_sets SET version = $1, data = $2, updated_at = $3
			WHERE user_id = $4 AND version = $5`,
			stored.Version, string(data), updatedAt, string(set.UserID), expectedVersion)
	}
	if err != nil {
		return goerr.Wrap(ErrUnavailable, "failed to put fact set",
			goerr.V("error", err.Error()), goerr.V("user_id", set.UserID))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return goerr.Wrap(ErrUnavailable, "failed to read affected rows",
			goerr.V("error", err.Error()), goerr.V("user_id", set.UserID))
	}
	if n == 0 {
		return goerr.Wrap(ErrConflict, "version mismatch",
			goerr.V("user_id", set.UserID), goerr.V("expected", expectedVersion))
	}

	set.Version = stored.Version
	set.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *SQL) DeleteFactSet(ctx context.Context, userID model.UserID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM memento_fact_sets WHERE user_id = $1`, string(userID)); err != nil {
		return goerr.Wrap(ErrUnavailable, "failed to delete fact set",
			goerr.V("error", err.Error()), goerr.V("user_id", userID))
	}
	return nil
}
