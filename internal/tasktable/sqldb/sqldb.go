// Package sqldb is a Table backend against a MySQL-wire-protocol server
// (e.g. a Dolt SQL server, or any compatible analytical engine) reached
// through database/sql and github.com/go-sql-driver/mysql. Its
// SharedStatements type is also reused by internal/tasktable/embedded,
// since an embedded Dolt database speaks the same SQL surface — only
// connection setup differs between the two backends.
//
// PickNextAndReport runs in an explicit transaction with a
// rollback-unless-committed defer, retried as a whole; the retry loop uses
// github.com/cenkalti/backoff/v4 rather than a hand-rolled loop. The other
// operations are single statements issued on the pool without a
// transaction or retry.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/cenkalti/backoff/v4"

	"github.com/spacetasks/tasked-step/internal/errs"
	"github.com/spacetasks/tasked-step/internal/stepid"
	"github.com/spacetasks/tasked-step/internal/tasktable"
	"github.com/spacetasks/tasked-step/internal/types"
)

// SharedStatements implements tasktable.Table against any *sql.DB whose
// driver understands the task-table schema's CREATE TABLE / SELECT ... FOR
// UPDATE / UPDATE statements below. Both the networked (sqldb.Table) and
// embedded (embedded.Table) backends embed this.
type SharedStatements struct {
	db     *sql.DB
	schema string
	stepID string
	table  string // schema-qualified
}

// NewSharedStatements binds the statement set to db for the given schema
// and step.
func NewSharedStatements(db *sql.DB, schema, stepID string) *SharedStatements {
	return &SharedStatements{
		db:     db,
		schema: schema,
		stepID: stepID,
		table:  stepid.QualifiedTableName(schema, stepID),
	}
}

// Table is a tasktable.Table backed by a networked SQL server.
type Table struct {
	*SharedStatements
	db *sql.DB
}

// Open connects to dsn (a go-sql-driver/mysql data source name) and
// returns a Table bound to the given step.
func Open(dsn, schema, stepID string) (*Table, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.TransientDB, "open sql connection", err)
	}
	return &Table{
		SharedStatements: NewSharedStatements(db, schema, stepID),
		db:               db,
	}, nil
}

// Close releases the underlying connection pool.
func (t *Table) Close() error { return t.db.Close() }

func (s *SharedStatements) Create(ctx context.Context, schema, stepID string) error {
	s.schema = schema
	s.stepID = stepID
	s.table = stepid.QualifiedTableName(schema, stepID)

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	task_id        INTEGER NOT NULL AUTO_INCREMENT,
	task_data      JSON NOT NULL,
	bytes_uploaded BIGINT NOT NULL DEFAULT 0,
	rows_uploaded  BIGINT NOT NULL DEFAULT 0,
	files_uploaded INT NOT NULL DEFAULT 0,
	started        BOOL NOT NULL DEFAULT FALSE,
	finalized      BOOL NOT NULL DEFAULT FALSE,
	CONSTRAINT %s PRIMARY KEY (task_id)
)`, s.table, stepid.PrimaryKeyName(stepID))

	_, err := s.db.ExecContext(ctx, ddl)
	if err != nil {
		return errs.Wrap(errs.TransientDB, "create task table", err)
	}
	return nil
}

func (s *SharedStatements) Insert(ctx context.Context, taskData types.TaskData) (int64, error) {
	encoded, err := encodeTaskData(taskData)
	if err != nil {
		return 0, errs.Wrap(errs.TaskQueryBuild, "encode task_data", err)
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (task_data, started, finalized) VALUES (?, FALSE, FALSE)", s.table),
		encoded)
	if err != nil {
		return 0, errs.Wrap(errs.TransientDB, "insert task row", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errs.Wrap(errs.TransientDB, "read inserted task id", err)
	}
	return id, nil
}

// retryPolicy is the backoff schedule for retrying PickNextAndReport's
// transaction, expressed through the real backoff library instead of a
// hand-rolled loop.
func retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return b
}

// PickNextAndReport is the Go-level stand-in for the
// get_task_item_and_statistics() stored procedure: it must be serializable
// with itself. This runs inside a SERIALIZABLE transaction that
// selects-for-update the first unstarted row, flips it started, and reads
// the aggregate counters, retrying the whole transaction on any error until
// the backoff budget is spent.
func (s *SharedStatements) PickNextAndReport(ctx context.Context) (types.TaskProgress, error) {
	var out types.TaskProgress
	op := func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback()
			}
		}()

		prog, pickErr := s.pickNextAndReportTx(ctx, tx)
		if pickErr != nil {
			return pickErr
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
		out = prog
		return nil
	}

	if err := backoff.Retry(op, retryPolicy()); err != nil {
		return types.TaskProgress{}, errs.Wrap(errs.TransientDB, "pick next task item", err)
	}
	return out, nil
}

func (s *SharedStatements) pickNextAndReportTx(ctx context.Context, tx *sql.Tx) (types.TaskProgress, error) {
	var prog types.TaskProgress
	row := tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(*), COALESCE(SUM(started),0), COALESCE(SUM(finalized),0) FROM %s", s.table))
	if err := row.Scan(&prog.TotalTasks, &prog.StartedTasks, &prog.FinalizedTasks); err != nil {
		return prog, err
	}

	var taskID int64
	var rawData []byte
	next := tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT task_id, task_data FROM %s WHERE started = FALSE ORDER BY task_id LIMIT 1 FOR UPDATE", s.table))
	switch err := next.Scan(&taskID, &rawData); {
	case errors.Is(err, sql.ErrNoRows):
		prog.NextTaskID = types.NoNextTask
		return prog, nil
	case err != nil:
		return prog, err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET started = TRUE WHERE task_id = ?", s.table), taskID); err != nil {
		return prog, err
	}
	decoded, err := decodeTaskData(rawData)
	if err != nil {
		return prog, err
	}
	prog.StartedTasks++
	prog.NextTaskID = taskID
	prog.NextTaskData = decoded
	return prog, nil
}

func (s *SharedStatements) RecordProgress(ctx context.Context, taskID int64, bytesDelta, rowsDelta int64, filesDelta int32, finalized bool) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET bytes_uploaded = bytes_uploaded + ?, rows_uploaded = rows_uploaded + ?,
		 files_uploaded = files_uploaded + ?, finalized = finalized OR ?
		 WHERE task_id = ? AND finalized = FALSE`, s.table),
		bytesDelta, rowsDelta, filesDelta, finalized, taskID)
	if err != nil {
		return errs.Wrap(errs.TransientDB, "record task progress", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.TransientDB, "read affected rows", err)
	}
	if affected == 0 {
		// Either unknown or already finalized — AsyncDeliveryAnomaly: the
		// caller logs this and must not treat it as fatal or let it
		// corrupt counters.
		var matching int64
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE task_id = ?", s.table), taskID).Scan(&matching); err != nil {
			return errs.Wrap(errs.TransientDB, "check task row existence", err)
		}
		return &tasktable.AlreadyFinalizedError{TaskID: taskID, Unknown: matching == 0}
	}
	return nil
}

func (s *SharedStatements) Aggregate(ctx context.Context) (types.Statistics, error) {
	var stats types.Statistics
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COALESCE(SUM(rows_uploaded),0), COALESCE(SUM(bytes_uploaded),0),
		 COALESCE(SUM(CASE WHEN bytes_uploaded > 0 THEN files_uploaded ELSE 0 END),0)
		 FROM %s`, s.table))
	if err := row.Scan(&stats.RowsUploaded, &stats.BytesUploaded, &stats.FilesUploaded); err != nil {
		return types.Statistics{}, errs.Wrap(errs.TransientDB, "aggregate task statistics", err)
	}
	return stats, nil
}

func (s *SharedStatements) EmptyTaskIDs(ctx context.Context) ([]types.TaskData, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT task_data FROM %s WHERE bytes_uploaded = 0", s.table))
	if err != nil {
		return nil, errs.Wrap(errs.TransientDB, "query empty task rows", err)
	}
	defer rows.Close()

	var out []types.TaskData
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errs.Wrap(errs.TransientDB, "scan empty task row", err)
		}
		td, err := decodeTaskData(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, td)
	}
	return out, rows.Err()
}

func encodeTaskData(td types.TaskData) ([]byte, error) {
	return json.Marshal(td)
}

func decodeTaskData(raw []byte) (types.TaskData, error) {
	var td types.TaskData
	if err := json.Unmarshal(raw, &td); err != nil {
		return types.TaskData{}, errs.Wrap(errs.TaskQueryBuild, "decode task_data", err)
	}
	return td, nil
}

// IsDeadlock reports whether err looks like a MySQL-protocol lock timeout
// or deadlock error. PickNextAndReport does not consult it: its retry loop
// retries every error until the backoff budget is spent.
func IsDeadlock(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "Deadlock", "Lock wait timeout")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(sub) <= len(s) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

var _ tasktable.Table = (*Table)(nil)
var _ tasktable.Table = (*SharedStatements)(nil)
