// ABOUTME: Tests for LoadRoutingSelection: loading one run's rows into a workflow.RoutingSelection.
package engine

import (
	"context"
	"testing"

	"github.com/hansjm10/alphred/internal/store"
	"github.com/hansjm10/alphred/internal/workflow"
)

func TestLoadRoutingSelectionReflectsCompletedSourceRouting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, err := InstantiateRun(ctx, s, simpleTree())
	if err != nil {
		t.Fatalf("InstantiateRun: %v", err)
	}

	nodes, err := s.ListRunNodes(ctx, runID)
	if err != nil {
		t.Fatalf("ListRunNodes: %v", err)
	}
	var draft *workflow.RunNode
	for _, n := range nodes {
		if n.NodeKey == "draft" {
			draft = n
		}
	}
	if draft == nil {
		t.Fatal("expected to find the draft node")
	}

	err = s.WithTx(ctx, func(tx *store.Tx) error {
		ok, err := tx.UpdateRunNodeStatus(ctx, store.NodeTransition{ID: draft.ID, FromStatus: workflow.NodePending, ToStatus: workflow.NodeRunning})
		if err != nil || !ok {
			t.Fatalf("claim draft: ok=%v err=%v", ok, err)
		}
		ok, err = tx.UpdateRunNodeStatus(ctx, store.NodeTransition{ID: draft.ID, FromStatus: workflow.NodeRunning, ToStatus: workflow.NodeCompleted})
		if err != nil || !ok {
			t.Fatalf("complete draft: ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	err = s.WithTx(ctx, func(tx *store.Tx) error {
		sel, loadedNodes, err := LoadRoutingSelection(ctx, tx, runID, noGuardMatch)
		if err != nil {
			t.Fatalf("LoadRoutingSelection: %v", err)
		}
		if len(loadedNodes) != 2 {
			t.Errorf("expected 2 nodes, got %d", len(loadedNodes))
		}
		if sel.LatestByNodeID[draft.ID].Status != workflow.NodeCompleted {
			t.Error("expected draft to be reflected as completed")
		}
		if sel.SelectedEdgeBySource[draft.ID] == nil {
			t.Error("expected the unconditional tree edge to be selected for the completed draft")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}
