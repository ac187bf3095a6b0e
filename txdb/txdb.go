// Package txdb defines the per-worker database context dispatch drives:
// one context per worker, each wrapping its own connection, begun before
// a handler runs and committed or rolled back after — the Go shape of
// the reference NodeInstance's fixed-size array of raw driver
// connections, one per worker thread.
package txdb

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/riftkeep/gamecore/errs"
)

// Context is what dispatch needs from one worker's database connection.
// Begin/Commit/Rollback bracket exactly one handler invocation; Tx
// exposes the live transaction to the handler for the duration of
// Process.
type Context interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Tx returns the current transaction, valid between Begin and
	// Commit/Rollback. Handlers that touch the database take this as
	// their query executor.
	Tx() *sql.Tx
}

// sqlContext is a Context backed by database/sql, usable with either
// pgx's stdlib driver (production) or modernc.org/sqlite (tests) — both
// expose the same database/sql surface, so one implementation serves
// both DOMAIN STACK entries.
type sqlContext struct {
	db *sql.DB
	tx *sql.Tx
}

// NewSQLContext wraps an already-opened *sql.DB as a worker's database
// context. The caller is responsible for opening one *sql.DB per worker
// with the same DSN, mirroring the reference implementation's per-worker
// connection array.
func NewSQLContext(db *sql.DB) Context {
	return &sqlContext{db: db}
}

func (c *sqlContext) Begin(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "txdb: begin")
	}
	c.tx = tx
	return nil
}

func (c *sqlContext) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Commit()
	c.tx = nil
	if err != nil {
		return errors.Wrap(err, "txdb: commit")
	}
	return nil
}

func (c *sqlContext) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	if err != nil {
		return errors.Wrap(err, "txdb: rollback")
	}
	return nil
}

func (c *sqlContext) Tx() *sql.Tx { return c.tx }

// Pool is one Context per worker, indexed by worker id, mirroring the
// reference NodeInstance's dbConnections array.
type Pool []Context

// NewPool wraps one *sql.DB per worker into a Pool. Callers typically
// open `workers` independent *sql.DB handles against the same DSN so
// each worker's transactions never contend with another worker's.
func NewPool(dbs []*sql.DB) Pool {
	pool := make(Pool, len(dbs))
	for i, db := range dbs {
		pool[i] = NewSQLContext(db)
	}
	return pool
}

// IsSyncConflict reports whether err represents a serialization failure
// that dispatch should answer with retry_later instead of server_error.
// Postgres reports this as SQLSTATE 40001; sqlite has no equivalent
// isolation level, so tests that want to exercise the retry path wrap
// the error explicitly with errs.ErrSyncConflict instead.
func IsSyncConflict(err error) bool {
	if errors.Is(err, errs.ErrSyncConflict) {
		return true
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "40001"
	}
	return false
}
