// ABOUTME: Typed loaders/writers for RunNode rows, including the conditional
// ABOUTME: status-transition update that implements §4.2's run-node side effects.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hansjm10/alphred/internal/workflow"
)

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// InsertRunNode inserts a new run-node row.
func (tx *Tx) InsertRunNode(ctx context.Context, n *workflow.RunNode) error {
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO run_nodes (id, workflow_run_id, tree_node_id, node_key, node_role, status,
			sequence_index, sequence_path, lineage_depth, spawner_node_id, join_node_id, attempt,
			started_at, completed_at, max_retries, max_children, node_type, provider, model,
			execution_permissions, error_handler_config, prompt, prompt_content_type)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.WorkflowRunID, n.TreeNodeID, n.NodeKey, string(n.NodeRole), string(n.Status),
		n.SequenceIndex, n.SequencePath, n.LineageDepth, nullString(n.SpawnerNodeID), nullString(n.JoinNodeID), n.Attempt,
		formatTime(n.StartedAt), formatTime(n.CompletedAt), n.MaxRetries, n.MaxChildren, string(n.NodeType),
		n.Provider, n.Model, n.ExecutionPermissions, n.ErrorHandlerConfig, n.Prompt, n.PromptContentType)
	if err != nil {
		return fmt.Errorf("insert run node: %w", err)
	}
	return nil
}

const runNodeColumns = `id, workflow_run_id, tree_node_id, node_key, node_role, status,
	sequence_index, sequence_path, lineage_depth, spawner_node_id, join_node_id, attempt,
	started_at, completed_at, max_retries, max_children, node_type, provider, model,
	execution_permissions, error_handler_config, prompt, prompt_content_type`

func scanRunNode(row interface {
	Scan(dest ...any) error
}) (*workflow.RunNode, error) {
	var (
		n                      workflow.RunNode
		role, status, nodeType string
		spawnerID, joinID      sql.NullString
		startedAt, completedAt sql.NullString
		provider, model        sql.NullString
		execPerms, errHandler  sql.NullString
	)
	if err := row.Scan(&n.ID, &n.WorkflowRunID, &n.TreeNodeID, &n.NodeKey, &role, &status,
		&n.SequenceIndex, &n.SequencePath, &n.LineageDepth, &spawnerID, &joinID, &n.Attempt,
		&startedAt, &completedAt, &n.MaxRetries, &n.MaxChildren, &nodeType, &provider, &model,
		&execPerms, &errHandler, &n.Prompt, &n.PromptContentType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, workflow.NewErrNotFound("run_node", "")
		}
		return nil, fmt.Errorf("scan run node: %w", err)
	}
	n.NodeRole = workflow.NodeRole(role)
	n.Status = workflow.NodeStatus(status)
	n.NodeType = workflow.NodeType(nodeType)
	n.Provider = provider.String
	n.Model = model.String
	n.ExecutionPermissions = execPerms.String
	n.ErrorHandlerConfig = errHandler.String
	if spawnerID.Valid {
		n.SpawnerNodeID = &spawnerID.String
	}
	if joinID.Valid {
		n.JoinNodeID = &joinID.String
	}
	var err error
	if n.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if n.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

// GetRunNode loads a single run-node by id.
func (s *Store) GetRunNode(ctx context.Context, id string) (*workflow.RunNode, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runNodeColumns+" FROM run_nodes WHERE id = ?", id)
	n, err := scanRunNode(row)
	if err != nil {
		if nf, ok := err.(*workflow.ErrNotFound); ok {
			nf.ID = id
		}
		return nil, err
	}
	return n, nil
}

// GetRunNode loads a single run-node by id within a transaction.
func (tx *Tx) GetRunNode(ctx context.Context, id string) (*workflow.RunNode, error) {
	row := tx.tx.QueryRowContext(ctx, "SELECT "+runNodeColumns+" FROM run_nodes WHERE id = ?", id)
	n, err := scanRunNode(row)
	if err != nil {
		if nf, ok := err.(*workflow.ErrNotFound); ok {
			nf.ID = id
		}
		return nil, err
	}
	return n, nil
}

// ListRunNodes loads all run-nodes for a run, ordered for deterministic
// selection: sequence_path, sequence_index, node_key, id (§4.4).
func (s *Store) ListRunNodes(ctx context.Context, runID string) ([]*workflow.RunNode, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runNodeColumns+" FROM run_nodes WHERE workflow_run_id = ? ORDER BY sequence_path ASC, sequence_index ASC, node_key ASC, id ASC", runID)
	if err != nil {
		return nil, fmt.Errorf("list run nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.RunNode
	for rows.Next() {
		n, err := scanRunNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListRunNodes loads all run-nodes for a run within a transaction.
func (tx *Tx) ListRunNodes(ctx context.Context, runID string) ([]*workflow.RunNode, error) {
	rows, err := tx.tx.QueryContext(ctx,
		"SELECT "+runNodeColumns+" FROM run_nodes WHERE workflow_run_id = ? ORDER BY sequence_path ASC, sequence_index ASC, node_key ASC, id ASC", runID)
	if err != nil {
		return nil, fmt.Errorf("list run nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.RunNode
	for rows.Next() {
		n, err := scanRunNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// NodeTransition describes the side effects to apply alongside a conditional
// run-node status update, per §4.2.
type NodeTransition struct {
	ID              string
	FromStatus      workflow.NodeStatus
	ToStatus        workflow.NodeStatus
	OccurredAt      time.Time
	IncrementAttempt bool
	// RequireRunStatusIn optionally requires the containing run's status to be
	// in this set, checked in the same transaction (§4.2's "optional
	// precondition"). Empty means no constraint.
	RequireRunStatusIn []workflow.RunStatus
}

// UpdateRunNodeStatus applies a conditional run-node transition with the side
// effects described in §4.2: pending->running sets started_at and clears
// completed_at; running->{completed,failed} sets completed_at; any ->pending
// clears both timestamps and, on retry, increments attempt. Returns false on
// precondition failure (current status didn't match FromStatus, or the
// containing run's status wasn't in RequireRunStatusIn).
func (tx *Tx) UpdateRunNodeStatus(ctx context.Context, t NodeTransition) (bool, error) {
	if len(t.RequireRunStatusIn) > 0 {
		node, err := tx.GetRunNode(ctx, t.ID)
		if err != nil {
			return false, err
		}
		run, err := tx.GetRun(ctx, node.WorkflowRunID)
		if err != nil {
			return false, err
		}
		ok := false
		for _, st := range t.RequireRunStatusIn {
			if run.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false, nil
		}
	}

	setClauses := "status = ?"
	args := []any{string(t.ToStatus)}

	switch {
	case t.ToStatus == workflow.NodePending:
		setClauses += ", started_at = NULL, completed_at = NULL"
		if t.IncrementAttempt {
			setClauses += ", attempt = attempt + 1"
		}
	case t.FromStatus == workflow.NodePending && t.ToStatus == workflow.NodeRunning:
		setClauses += ", started_at = ?, completed_at = NULL"
		args = append(args, formatTime(&t.OccurredAt))
	case t.ToStatus.IsTerminal():
		setClauses += ", completed_at = ?"
		args = append(args, formatTime(&t.OccurredAt))
	}

	args = append(args, t.ID, string(t.FromStatus))
	res, err := tx.tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE run_nodes SET %s WHERE id = ? AND status = ?", setClauses), args...)
	if err != nil {
		return false, fmt.Errorf("update run node status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
