// ABOUTME: Typed loaders/writers for WorkflowRun rows.
// ABOUTME: Conditional status updates report rows-changed so callers detect precondition failures (§4.1).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hansjm10/alphred/internal/workflow"
)

const timeLayout = time.RFC3339Nano

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", s.String, err)
	}
	return &t, nil
}

// CreateRun inserts a new WorkflowRun with status pending.
func (s *Store) CreateRun(ctx context.Context, run *workflow.WorkflowRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, workflow_tree_id, status, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowTreeID, string(run.Status), formatTime(run.StartedAt), formatTime(run.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert workflow run: %w", err)
	}
	return nil
}

// GetRun loads a WorkflowRun by id.
func (s *Store) GetRun(ctx context.Context, id string) (*workflow.WorkflowRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_tree_id, status, started_at, completed_at FROM workflow_runs WHERE id = ?`, id)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*workflow.WorkflowRun, error) {
	var (
		run                   workflow.WorkflowRun
		status                string
		startedAt, completedAt sql.NullString
	)
	if err := row.Scan(&run.ID, &run.WorkflowTreeID, &status, &startedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, workflow.NewErrNotFound("workflow_run", "")
		}
		return nil, fmt.Errorf("scan workflow run: %w", err)
	}
	run.Status = workflow.RunStatus(status)
	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if run.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, err
	}
	return &run, nil
}

// UpdateRunStatus applies a conditional status transition: `UPDATE ... WHERE
// id=? AND status=?`. occurredAt, if non-nil, is written to started_at
// (pending->running) or completed_at (->terminal), matching §4.2's side
// effects. Returns false if the row's current status did not match `from`
// (a precondition failure, not an error).
func (tx *Tx) UpdateRunStatus(ctx context.Context, id string, from, to workflow.RunStatus, occurredAt *time.Time) (bool, error) {
	var setClause string
	var args []any
	switch {
	case from == workflow.RunPending && to == workflow.RunRunning:
		setClause = "status = ?, started_at = ?"
		args = []any{string(to), formatTime(occurredAt)}
	case to.IsTerminal():
		setClause = "status = ?, completed_at = ?"
		args = []any{string(to), formatTime(occurredAt)}
	default:
		setClause = "status = ?"
		args = []any{string(to)}
	}
	args = append(args, id, string(from))

	res, err := tx.tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE workflow_runs SET %s WHERE id = ? AND status = ?", setClause), args...)
	if err != nil {
		return false, fmt.Errorf("update run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// GetRun loads a WorkflowRun by id within a transaction.
func (tx *Tx) GetRun(ctx context.Context, id string) (*workflow.WorkflowRun, error) {
	row := tx.tx.QueryRowContext(ctx,
		`SELECT id, workflow_tree_id, status, started_at, completed_at FROM workflow_runs WHERE id = ?`, id)
	return scanRun(row)
}
