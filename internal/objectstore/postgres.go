package objectstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// DB is the subset of the shared PostgreSQL client used by PostgresStore
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (int64, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS import_objects (
	key        TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	version    BIGINT NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore keeps objects in a single table with a version column used as ETag
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a PostgresStore
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the objects table when missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create import_objects table: %w", err)
	}
	return nil
}

type objectRow struct {
	Data    []byte `db:"data"`
	Version int64  `db:"version"`
}

// Get loads the object stored under key
func (s *PostgresStore) Get(ctx context.Context, key string) (*Object, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	var row objectRow
	err := s.db.GetContext(ctx, &row, `SELECT data, version FROM import_objects WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}

	return &Object{Key: key, Data: row.Data, ETag: strconv.FormatInt(row.Version, 10)}, nil
}

// Put writes data under key. Conditional writes that lose report ErrPreconditionFailed.
func (s *PostgresStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}

	var (
		query string
		args  []any
	)
	switch {
	case opts.IfNoneMatch:
		query = `INSERT INTO import_objects (key, data) VALUES ($1, $2)
			ON CONFLICT (key) DO NOTHING
			RETURNING version`
		args = []any{key, data}
	case opts.IfMatch != "":
		expected, err := strconv.ParseInt(opts.IfMatch, 10, 64)
		if err != nil {
			return "", ErrPreconditionFailed
		}
		query = `UPDATE import_objects SET data = $2, version = version + 1, updated_at = NOW()
			WHERE key = $1 AND version = $3
			RETURNING version`
		args = []any{key, data, expected}
	default:
		query = `INSERT INTO import_objects (key, data) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data,
				version = import_objects.version + 1, updated_at = NOW()
			RETURNING version`
		args = []any{key, data}
	}

	var version int64
	err := s.db.GetContext(ctx, &version, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrPreconditionFailed
	}
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}

	return strconv.FormatInt(version, 10), nil
}

// List returns up to limit keys under prefix after startAfter
func (s *PostgresStore) List(ctx context.Context, prefix, startAfter string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}

	var keys []string
	err := s.db.SelectContext(ctx, &keys,
		`SELECT key FROM import_objects
		WHERE left(key, length($1)) = $1 AND key > $2
		ORDER BY key
		LIMIT $3`,
		prefix, startAfter, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects under %s: %w", prefix, err)
	}
	return keys, nil
}
