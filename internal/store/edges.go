// ABOUTME: Typed loaders/writers for RunEdge rows.
// ABOUTME: ListRunEdges orders rows per the §3 comparator: (source, routeOn, priority, target, id).
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hansjm10/alphred/internal/workflow"
)

const runEdgeColumns = `id, workflow_run_id, source_run_node_id, target_run_node_id, route_on, priority, auto, guard_expression, edge_kind`

func scanRunEdge(row interface{ Scan(dest ...any) error }) (*workflow.RunEdge, error) {
	var (
		e               workflow.RunEdge
		routeOn         string
		auto            int
		guard           sql.NullString
		edgeKind        string
	)
	if err := row.Scan(&e.ID, &e.WorkflowRunID, &e.SourceRunNodeID, &e.TargetRunNodeID, &routeOn, &e.Priority, &auto, &guard, &edgeKind); err != nil {
		return nil, fmt.Errorf("scan run edge: %w", err)
	}
	e.RouteOn = workflow.RouteOn(routeOn)
	e.Auto = auto != 0
	e.GuardExpression = guard.String
	e.EdgeKind = workflow.EdgeKind(edgeKind)
	return &e, nil
}

// InsertRunEdge inserts a new run-edge row.
func (tx *Tx) InsertRunEdge(ctx context.Context, e *workflow.RunEdge) error {
	auto := 0
	if e.Auto {
		auto = 1
	}
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO run_edges (id, workflow_run_id, source_run_node_id, target_run_node_id, route_on, priority, auto, guard_expression, edge_kind)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.WorkflowRunID, e.SourceRunNodeID, e.TargetRunNodeID, string(e.RouteOn), e.Priority, auto, e.GuardExpression, string(e.EdgeKind))
	if err != nil {
		return fmt.Errorf("insert run edge: %w", err)
	}
	return nil
}

// ListRunEdges loads all run-edges for a run, ordered by the §3 comparator:
// (source_run_node_id, route_on, priority asc, target_run_node_id, id).
func (s *Store) ListRunEdges(ctx context.Context, runID string) ([]*workflow.RunEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runEdgeColumns+` FROM run_edges WHERE workflow_run_id = ?
		 ORDER BY source_run_node_id ASC, route_on ASC, priority ASC, target_run_node_id ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.RunEdge
	for rows.Next() {
		e, err := scanRunEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListRunEdges loads all run-edges for a run within a transaction.
func (tx *Tx) ListRunEdges(ctx context.Context, runID string) ([]*workflow.RunEdge, error) {
	rows, err := tx.tx.QueryContext(ctx,
		"SELECT "+runEdgeColumns+` FROM run_edges WHERE workflow_run_id = ?
		 ORDER BY source_run_node_id ASC, route_on ASC, priority ASC, target_run_node_id ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.RunEdge
	for rows.Next() {
		e, err := scanRunEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MaxStaticSuccessPriority returns the highest priority among existing static
// (edge_kind='tree') success edges from the given source node, and whether
// any exist. Used at fan-out time to keep dynamic edges strictly lower
// priority than the static spawner->join route (§4.8, §9).
func MaxStaticSuccessPriority(edges []*workflow.RunEdge, sourceRunNodeID string) (int, bool) {
	found := false
	max := 0
	for _, e := range edges {
		if e.SourceRunNodeID != sourceRunNodeID || e.RouteOn != workflow.RouteSuccess || e.EdgeKind != workflow.EdgeKindTree {
			continue
		}
		if !found || e.Priority > max {
			max = e.Priority
		}
		found = true
	}
	return max, found
}
