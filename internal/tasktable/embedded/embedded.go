// Package embedded is a Table backend using the embedded Dolt engine
// (github.com/dolthub/driver), for single-binary / local-dev execution with
// no separate database server.
//
// It parses a file:// DSN with the embedded driver's Config, sets a
// backoff.BackOff for driver-internal open retries, opens a
// single-connection *sql.DB (embedded Dolt is single-writer), and pings
// with an uncancelable context so the caller's own context lifetime can't
// poison the connection pool.
package embedded

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	doltdriver "github.com/dolthub/driver"

	"github.com/spacetasks/tasked-step/internal/errs"
	"github.com/spacetasks/tasked-step/internal/tasktable"
	"github.com/spacetasks/tasked-step/internal/tasktable/sqldb"
)

const embeddedOpenMaxElapsed = 30 * time.Second

func openBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = embeddedOpenMaxElapsed
	return bo
}

// Table is a tasktable.Table backed by an embedded, in-process Dolt
// database rooted at a local directory. It reuses sqldb's SQL statements
// (the task-table schema and the pick-next transaction) since Dolt speaks
// the same SQL surface the networked backend targets — only connection
// setup differs.
type Table struct {
	*sqldb.SharedStatements
	db   *sql.DB
	path string
}

// Open creates (if needed) the directory at path and opens an embedded
// Dolt database for step stepID.
func Open(ctx context.Context, path, database, stepID string) (*Table, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errs.Wrap(errs.TransientDB, "resolve embedded dolt path", err)
	}
	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, errs.Wrap(errs.TransientDB, "create embedded dolt directory", err)
	}

	dsn := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s&database=%s",
		absPath, "tasked-step", "tasked-step@local", database)

	openCfg, err := doltdriver.ParseDSN(dsn)
	if err != nil {
		return nil, errs.Wrap(errs.TransientDB, "parse embedded dolt dsn", err)
	}
	openCfg.BackOff = openBackoff()

	connector, err := doltdriver.NewConnector(openCfg)
	if err != nil {
		return nil, errs.Wrap(errs.TransientDB, "create embedded dolt connector", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1) // embedded Dolt is single-writer

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.TransientDB, "ping embedded dolt database", err)
	}

	return &Table{
		SharedStatements: sqldb.NewSharedStatements(db, database, stepID),
		db:               db,
		path:             absPath,
	}, nil
}

// Close releases the embedded connection.
func (t *Table) Close() error { return t.db.Close() }

var _ tasktable.Table = (*Table)(nil)
