package txdb

import (
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

// OpenPostgresPool opens `workers` independent connections to dsn through
// pgx's database/sql adapter and wraps each as a Context, so every
// worker gets its own connection instead of sharing a pool — the
// production counterpart to NewPool's test-friendly generic form.
func OpenPostgresPool(dsn string, workers int) (Pool, func() error, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, nil, errors.Wrap(err, "txdb: parse dsn")
	}

	dbs := make([]*sql.DB, workers)
	for i := 0; i < workers; i++ {
		db := stdlib.OpenDB(*cfg)
		if err := db.Ping(); err != nil {
			closeAll(dbs[:i])
			return nil, nil, errors.Wrapf(err, "txdb: open worker %d", i)
		}
		dbs[i] = db
	}
	closer := func() error {
		return closeAll(dbs)
	}
	return NewPool(dbs), closer, nil
}

func closeAll(dbs []*sql.DB) error {
	var firstErr error
	for _, db := range dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Migrate runs every pending migration in migrationsDir against dsn using
// goose, called once at node startup before any worker pool is opened.
func Migrate(dsn, migrationsDir string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return errors.Wrap(err, "txdb: open for migration")
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "txdb: goose dialect")
	}
	if err := goose.Up(db, migrationsDir); err != nil {
		return errors.Wrap(err, "txdb: goose up")
	}
	return nil
}
