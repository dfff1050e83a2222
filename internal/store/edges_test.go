// ABOUTME: Tests for RunEdge persistence and MaxStaticSuccessPriority.
package store

import (
	"context"
	"testing"

	"github.com/hansjm10/alphred/internal/workflow"
)

func TestInsertAndListRunEdgesOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateRun(t, s, "run-1", workflow.RunPending)

	err := s.WithTx(ctx, func(tx *Tx) error {
		edges := []*workflow.RunEdge{
			{ID: "e2", WorkflowRunID: "run-1", SourceRunNodeID: "a", TargetRunNodeID: "z", RouteOn: workflow.RouteSuccess, Priority: 1, EdgeKind: workflow.EdgeKindTree, Auto: true},
			{ID: "e1", WorkflowRunID: "run-1", SourceRunNodeID: "a", TargetRunNodeID: "y", RouteOn: workflow.RouteSuccess, Priority: 0, EdgeKind: workflow.EdgeKindTree, Auto: true},
		}
		for _, e := range edges {
			if err := tx.InsertRunEdge(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	edges, err := s.ListRunEdges(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListRunEdges: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(edges))
	}
	if edges[0].Priority != 0 || edges[1].Priority != 1 {
		t.Errorf("expected ascending priority order, got %d, %d", edges[0].Priority, edges[1].Priority)
	}
}

func TestMaxStaticSuccessPriority(t *testing.T) {
	edges := []*workflow.RunEdge{
		{SourceRunNodeID: "a", RouteOn: workflow.RouteSuccess, Priority: 3, EdgeKind: workflow.EdgeKindTree},
		{SourceRunNodeID: "a", RouteOn: workflow.RouteSuccess, Priority: 5, EdgeKind: workflow.EdgeKindTree},
		{SourceRunNodeID: "a", RouteOn: workflow.RouteFailure, Priority: 9, EdgeKind: workflow.EdgeKindTree},
		{SourceRunNodeID: "a", RouteOn: workflow.RouteSuccess, Priority: 99, EdgeKind: workflow.EdgeKindSpawnerToChild},
		{SourceRunNodeID: "b", RouteOn: workflow.RouteSuccess, Priority: 10, EdgeKind: workflow.EdgeKindTree},
	}

	max, found := MaxStaticSuccessPriority(edges, "a")
	if !found {
		t.Fatal("expected a static success edge to be found")
	}
	if max != 5 {
		t.Errorf("expected max priority 5, got %d", max)
	}

	_, found = MaxStaticSuccessPriority(edges, "nonexistent")
	if found {
		t.Error("expected no static success edge for a node with none")
	}
}
