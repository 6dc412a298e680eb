// Package postgres implements the entity-store contract on PostgreSQL.
//
// Every record lives in one table as a jsonb payload plus a revision
// counter. All writes are single-statement and therefore atomic per
// record; there are no multi-record transactions, matching the contract
// the engines are written against. Secondary indexes are expression
// indexes over payload fields, declared in the embedded migrations.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/phorest/code-push-server/internal/common"
	"github.com/phorest/code-push-server/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// uniqueViolation is the PostgreSQL error code for duplicate keys, raised
// both by the primary key and by the unique expression indexes.
const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

// New opens a connection pool for the given DSN, verifies connectivity and
// runs pending migrations. An unreachable backend surfaces as
// ErrConnectionFailed; the host decides whether that is fatal.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %v: %w", err, common.ErrConnectionFailed)
	}

	s := &Store{db: db}
	if err := s.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

// NewFromDB wraps an existing handle without pinging or migrating.
// Used by tests that substitute a mock connection.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	return goose.UpContext(ctx, s.db, "migrations")
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == uniqueViolation
}

func (s *Store) Get(ctx context.Context, collection, key string) (*storage.Record, error) {
	query := `SELECT revision, data FROM records WHERE collection = $1 AND key = $2`

	rec := &storage.Record{Key: key}
	err := s.db.QueryRowContext(ctx, query, collection, key).Scan(&rec.Revision, &rec.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (s *Store) Insert(ctx context.Context, collection, key string, data []byte) error {
	query := `INSERT INTO records (collection, key, revision, data) VALUES ($1, $2, 1, $3)`

	if _, err := s.db.ExecContext(ctx, query, collection, key, data); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s/%s: %w", collection, key, common.ErrAlreadyExists)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) CompareAndSwap(ctx context.Context, collection, key string, data []byte, expectedRevision int64) error {
	query := `
		UPDATE records SET data = $3, revision = revision + 1
		WHERE collection = $1 AND key = $2 AND revision = $4
	`
	res, err := s.db.ExecContext(ctx, query, collection, key, data, expectedRevision)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s/%s: unique index: %w", collection, key, common.ErrAlreadyExists)
		}
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		// Distinguish a missing record from a concurrent writer.
		if _, err := s.Get(ctx, collection, key); err != nil {
			return err
		}
		return fmt.Errorf("%s/%s: %w", collection, key, common.ErrConflict)
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	query := `DELETE FROM records WHERE collection = $1 AND key = $2`

	res, err := s.db.ExecContext(ctx, query, collection, key)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, key, common.ErrNotFound)
	}
	return nil
}

func (s *Store) QueryByIndex(ctx context.Context, collection, index, value string) ([]*storage.Record, error) {
	idx := storage.LookupIndex(collection, index)

	query := `
		SELECT key, revision, data FROM records
		WHERE collection = $1 AND data ->> $2 = $3
		ORDER BY key
	`
	rows, err := s.db.QueryContext(ctx, query, collection, idx.Field, value)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*storage.Record
	for rows.Next() {
		rec := &storage.Record{}
		if err := rows.Scan(&rec.Key, &rec.Revision, &rec.Data); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
