// Package ledger records per-job outcomes of a batch run in a small
// sqlite database next to the results, so interrupted runs can be audited
// without grepping logs.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job         TEXT PRIMARY KEY,
	fold_id     TEXT,
	status      TEXT NOT NULL,
	error       TEXT,
	started_at  TEXT,
	finished_at TEXT
);`

type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Begin records that a job started. Re-running a job resets its row.
func (l *Ledger) Begin(ctx context.Context, job, foldID string) error {
	qstring := `INSERT INTO jobs (job, fold_id, status, error, started_at, finished_at)
		VALUES (?, ?, ?, NULL, ?, NULL)
		ON CONFLICT(job) DO UPDATE SET
			fold_id = excluded.fold_id,
			status = excluded.status,
			error = NULL,
			started_at = excluded.started_at,
			finished_at = NULL;`

	stm, err := l.db.PrepareContext(ctx, qstring)
	if err != nil {
		return err
	}
	defer stm.Close()

	_, err = stm.ExecContext(ctx, job, foldID, StatusRunning, now())
	return err
}

// Finish marks a job as completed.
func (l *Ledger) Finish(ctx context.Context, job string) error {
	return l.setOutcome(ctx, job, StatusDone, "")
}

// Fail marks a job as failed with the given reason.
func (l *Ledger) Fail(ctx context.Context, job, reason string) error {
	return l.setOutcome(ctx, job, StatusFailed, reason)
}

func (l *Ledger) setOutcome(ctx context.Context, job, status, reason string) error {
	qstring := `UPDATE jobs SET status = ?, error = ?, finished_at = ? WHERE job = ?;`

	stm, err := l.db.PrepareContext(ctx, qstring)
	if err != nil {
		return err
	}
	defer stm.Close()

	var errCol any
	if reason != "" {
		errCol = reason
	}
	res, err := stm.ExecContext(ctx, status, errCol, now(), job)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s was never begun", job)
	}
	return nil
}

// Status returns one job's recorded status and error text.
func (l *Ledger) Status(ctx context.Context, job string) (status, reason string, err error) {
	qstring := `SELECT status, COALESCE(error, '') FROM jobs WHERE job = ?;`

	stm, err := l.db.PrepareContext(ctx, qstring)
	if err != nil {
		return "", "", err
	}
	defer stm.Close()

	err = stm.QueryRowContext(ctx, job).Scan(&status, &reason)
	return status, reason, err
}

// Summary returns job counts keyed by status.
func (l *Ledger) Summary(ctx context.Context) (map[string]int, error) {
	qstring := `SELECT status, COUNT(*) FROM jobs GROUP BY status;`

	stm, err := l.db.PrepareContext(ctx, qstring)
	if err != nil {
		return nil, err
	}
	defer stm.Close()

	rows, err := stm.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		results[status] = n
	}
	return results, rows.Err()
}
