// Package postgres holds the PostgreSQL Store implementation. Statements run
// against the transaction carried in the context when one is present, so a
// whole identity operation shares a single database transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	txcontext "idregistry/pkg/platform/tx"
	"idregistry/pkg/domerrors"
)

const maxTxRetries = 3

// Store implements store.Store on PostgreSQL via lib/pq.
type Store struct {
	db      *sql.DB
	onRetry func()
}

// Option configures the store.
type Option func(*Store)

// WithRetryHook is called once per serialization-failure retry, before the
// transaction is re-attempted. Used to feed the retry counter.
func WithRetryHook(fn func()) Option {
	return func(s *Store) { s.onRetry = fn }
}

// New wraps an open database handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db, opts...), nil
}

// DB exposes the underlying handle for lifecycle management.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns the context transaction when one is present, the pool otherwise.
func (s *Store) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// RunInTx runs fn inside one database transaction carried through the
// context. Serialization failures and deadlocks are retried a bounded number
// of times before surfacing as a conflict.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
		if s.onRetry != nil {
			s.onRetry()
		}
	}
	return domerrors.Wrap(lastErr, domerrors.CodeConflict, "transaction retries exhausted")
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isForeignKeyViolation reports whether err is a referential integrity
// violation, meaning a referenced row does not exist.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
