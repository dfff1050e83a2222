// ABOUTME: Typed loaders/writers for RoutingDecision rows.
// ABOUTME: Decisions accumulate one row per attempt; "latest per node" is resolved by created_at/id.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hansjm10/alphred/internal/workflow"
)

const routingDecisionColumns = `id, workflow_run_id, run_node_id, decision_type, created_at, attempt, raw_output`

func scanRoutingDecision(row interface{ Scan(dest ...any) error }) (*workflow.RoutingDecision, error) {
	var (
		d            workflow.RoutingDecision
		decisionType string
		createdAt    string
		rawOutput    string
	)
	if err := row.Scan(&d.ID, &d.WorkflowRunID, &d.RunNodeID, &decisionType, &createdAt, &d.Attempt, &rawOutput); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, workflow.NewErrNotFound("routing_decision", "")
		}
		return nil, fmt.Errorf("scan routing decision: %w", err)
	}
	d.DecisionType = workflow.DecisionType(decisionType)
	if rawOutput != "" {
		if err := json.Unmarshal([]byte(rawOutput), &d.RawOutput); err != nil {
			return nil, fmt.Errorf("unmarshal routing decision raw_output: %w", err)
		}
	}
	t, err := parseTime(sql.NullString{String: createdAt, Valid: true})
	if err != nil {
		return nil, err
	}
	d.CreatedAt = *t
	return &d, nil
}

// InsertRoutingDecision inserts a new routing-decision row.
func (tx *Tx) InsertRoutingDecision(ctx context.Context, d *workflow.RoutingDecision) error {
	rawOutput := "{}"
	if d.RawOutput != nil {
		b, err := json.Marshal(d.RawOutput)
		if err != nil {
			return fmt.Errorf("marshal routing decision raw_output: %w", err)
		}
		rawOutput = string(b)
	}
	createdAt := d.CreatedAt
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO routing_decisions (id, workflow_run_id, run_node_id, decision_type, created_at, attempt, raw_output)
		 VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.WorkflowRunID, d.RunNodeID, string(d.DecisionType), formatTime(&createdAt), d.Attempt, rawOutput)
	if err != nil {
		return fmt.Errorf("insert routing decision: %w", err)
	}
	return nil
}

// LatestRoutingDecisionByNode returns the most recent routing decision for a
// run-node (by created_at, then id), or nil if the node has none yet.
func (tx *Tx) LatestRoutingDecisionByNode(ctx context.Context, runNodeID string) (*workflow.RoutingDecision, error) {
	row := tx.tx.QueryRowContext(ctx,
		"SELECT "+routingDecisionColumns+` FROM routing_decisions WHERE run_node_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, runNodeID)
	d, err := scanRoutingDecision(row)
	if err != nil {
		if _, ok := err.(*workflow.ErrNotFound); ok {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

// ListRoutingDecisionsByNode loads the full decision history for a run-node,
// oldest first.
func (tx *Tx) ListRoutingDecisionsByNode(ctx context.Context, runNodeID string) ([]*workflow.RoutingDecision, error) {
	rows, err := tx.tx.QueryContext(ctx,
		"SELECT "+routingDecisionColumns+" FROM routing_decisions WHERE run_node_id = ? ORDER BY created_at ASC, id ASC", runNodeID)
	if err != nil {
		return nil, fmt.Errorf("list routing decisions by node: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.RoutingDecision
	for rows.Next() {
		d, err := scanRoutingDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LatestRoutingDecisionsByRun returns the latest decision for every run-node
// in the run that has at least one decision, keyed by run_node_id. Used by
// the routing-selection builder to resolve unresolved-decision-source edges
// (§4.3).
func (tx *Tx) LatestRoutingDecisionsByRun(ctx context.Context, runID string) (map[string]*workflow.RoutingDecision, error) {
	rows, err := tx.tx.QueryContext(ctx,
		"SELECT "+routingDecisionColumns+` FROM routing_decisions WHERE workflow_run_id = ?
		 ORDER BY run_node_id ASC, created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list routing decisions by run: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*workflow.RoutingDecision)
	for rows.Next() {
		d, err := scanRoutingDecision(rows)
		if err != nil {
			return nil, err
		}
		out[d.RunNodeID] = d
	}
	return out, rows.Err()
}
