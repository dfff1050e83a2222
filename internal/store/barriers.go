// ABOUTME: Typed loaders/writers for RunJoinBarrier rows.
// ABOUTME: Counter updates are conditional on the status the caller observed, so a barrier released in between is never double-counted.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hansjm10/alphred/internal/workflow"
)

const runJoinBarrierColumns = `id, workflow_run_id, spawner_run_node_id, join_run_node_id, spawn_source_artifact_id,
	expected_children, terminal_children, completed_children, failed_children, status`

func scanBarrier(row interface{ Scan(dest ...any) error }) (*workflow.RunJoinBarrier, error) {
	var (
		b      workflow.RunJoinBarrier
		status string
	)
	if err := row.Scan(&b.ID, &b.WorkflowRunID, &b.SpawnerRunNodeID, &b.JoinRunNodeID, &b.SpawnSourceArtifactID,
		&b.ExpectedChildren, &b.TerminalChildren, &b.CompletedChildren, &b.FailedChildren, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, workflow.NewErrNotFound("run_join_barrier", "")
		}
		return nil, fmt.Errorf("scan run join barrier: %w", err)
	}
	b.Status = workflow.BarrierStatus(status)
	return &b, nil
}

// InsertBarrier inserts a new join-barrier row. spawn_source_artifact_id is
// UNIQUE, so a duplicate fan-out for the same spawn batch fails at the
// database layer -- the caller turns that into ErrInvariantViolation (§4.8).
func (tx *Tx) InsertBarrier(ctx context.Context, b *workflow.RunJoinBarrier) error {
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO run_join_barriers (id, workflow_run_id, spawner_run_node_id, join_run_node_id,
			spawn_source_artifact_id, expected_children, terminal_children, completed_children, failed_children, status)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.WorkflowRunID, b.SpawnerRunNodeID, b.JoinRunNodeID, b.SpawnSourceArtifactID,
		b.ExpectedChildren, b.TerminalChildren, b.CompletedChildren, b.FailedChildren, string(b.Status))
	if err != nil {
		return fmt.Errorf("insert run join barrier: %w", err)
	}
	return nil
}

// GetBarrier loads a single barrier by id.
func (tx *Tx) GetBarrier(ctx context.Context, id string) (*workflow.RunJoinBarrier, error) {
	row := tx.tx.QueryRowContext(ctx, "SELECT "+runJoinBarrierColumns+" FROM run_join_barriers WHERE id = ?", id)
	b, err := scanBarrier(row)
	if err != nil {
		if nf, ok := err.(*workflow.ErrNotFound); ok {
			nf.ID = id
		}
		return nil, err
	}
	return b, nil
}

// ListActiveBarriers returns every non-released barrier for a (spawner,
// join) pair. Under the no-overlapping-fan-out invariant (§4.8) this should
// never return more than one row; callers use the length to detect and
// report an invariant violation rather than silently picking one.
func (tx *Tx) ListActiveBarriers(ctx context.Context, spawnerRunNodeID, joinRunNodeID string) ([]*workflow.RunJoinBarrier, error) {
	rows, err := tx.tx.QueryContext(ctx,
		"SELECT "+runJoinBarrierColumns+` FROM run_join_barriers
		 WHERE spawner_run_node_id = ? AND join_run_node_id = ? AND status != ?
		 ORDER BY id ASC`, spawnerRunNodeID, joinRunNodeID, string(workflow.BarrierReleased))
	if err != nil {
		return nil, fmt.Errorf("list active barriers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.RunJoinBarrier
	for rows.Next() {
		b, err := scanBarrier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// FindBarrier returns the most recent barrier (any status) for a given
// (spawner, join) pair, or ErrNotFound if none exists. Used by retry-reopen
// to find a barrier that may already be released.
func (tx *Tx) FindBarrier(ctx context.Context, spawnerRunNodeID, joinRunNodeID string) (*workflow.RunJoinBarrier, error) {
	row := tx.tx.QueryRowContext(ctx,
		"SELECT "+runJoinBarrierColumns+` FROM run_join_barriers
		 WHERE spawner_run_node_id = ? AND join_run_node_id = ?
		 ORDER BY id DESC LIMIT 1`, spawnerRunNodeID, joinRunNodeID)
	b, err := scanBarrier(row)
	if err != nil {
		if nf, ok := err.(*workflow.ErrNotFound); ok {
			nf.ID = spawnerRunNodeID + "/" + joinRunNodeID
		}
		return nil, err
	}
	return b, nil
}

// ListActiveBarriersByJoin returns every non-released barrier targeting the
// given join node, across all spawners. Used when the join is about to
// execute and claims whichever ready barrier belongs to it.
func (tx *Tx) ListActiveBarriersByJoin(ctx context.Context, joinRunNodeID string) ([]*workflow.RunJoinBarrier, error) {
	rows, err := tx.tx.QueryContext(ctx,
		"SELECT "+runJoinBarrierColumns+` FROM run_join_barriers
		 WHERE join_run_node_id = ? AND status != ?
		 ORDER BY id ASC`, joinRunNodeID, string(workflow.BarrierReleased))
	if err != nil {
		return nil, fmt.Errorf("list active barriers by join: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.RunJoinBarrier
	for rows.Next() {
		b, err := scanBarrier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ReopenBarrier decrements terminal/failed counters and forces status back
// to pending, regardless of the barrier's current status (ready or already
// released) per the §4.8 retry-reopen rule. Every call decrements the
// counters again, including on a barrier that is already pending.
func (tx *Tx) ReopenBarrier(ctx context.Context, id string, terminalDelta, failedDelta int) error {
	_, err := tx.tx.ExecContext(ctx,
		`UPDATE run_join_barriers
		 SET terminal_children = terminal_children - ?,
		     failed_children = failed_children - ?,
		     status = ?
		 WHERE id = ?`,
		terminalDelta, failedDelta, string(workflow.BarrierPending), id)
	if err != nil {
		return fmt.Errorf("reopen barrier: %w", err)
	}
	return nil
}

// BarrierCounterDelta describes an increment to apply to a barrier's child
// counters, always conditioned on the barrier still being non-released so a
// late-arriving child update can never reopen or double-count a released
// barrier (§4.8, §9).
type BarrierCounterDelta struct {
	ID                string
	TerminalDelta     int
	CompletedDelta    int
	FailedDelta       int
	RequireStatus     workflow.BarrierStatus
}

// UpdateBarrierCounters applies a conditional counter increment. Returns
// false if the barrier's current status did not match RequireStatus.
func (tx *Tx) UpdateBarrierCounters(ctx context.Context, d BarrierCounterDelta) (bool, error) {
	res, err := tx.tx.ExecContext(ctx,
		`UPDATE run_join_barriers
		 SET terminal_children = terminal_children + ?,
		     completed_children = completed_children + ?,
		     failed_children = failed_children + ?
		 WHERE id = ? AND status = ?`,
		d.TerminalDelta, d.CompletedDelta, d.FailedDelta, d.ID, string(d.RequireStatus))
	if err != nil {
		return false, fmt.Errorf("update barrier counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ReleaseBarrier transitions a barrier from pending/ready to released,
// conditioned on its current status to guard against a double release.
func (tx *Tx) ReleaseBarrier(ctx context.Context, id string, from workflow.BarrierStatus) (bool, error) {
	res, err := tx.tx.ExecContext(ctx,
		`UPDATE run_join_barriers SET status = ? WHERE id = ? AND status = ?`,
		string(workflow.BarrierReleased), id, string(from))
	if err != nil {
		return false, fmt.Errorf("release barrier: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkBarrierReady transitions a barrier from pending to ready once its
// expected child count is known to have been fully recorded.
func (tx *Tx) MarkBarrierReady(ctx context.Context, id string) (bool, error) {
	res, err := tx.tx.ExecContext(ctx,
		`UPDATE run_join_barriers SET status = ? WHERE id = ? AND status = ?`,
		string(workflow.BarrierReady), id, string(workflow.BarrierPending))
	if err != nil {
		return false, fmt.Errorf("mark barrier ready: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
