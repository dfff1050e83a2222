// ABOUTME: Tests for InstantiateRun: static node/edge materialisation from a TreeDefinition.
package engine

import (
	"context"
	"testing"

	"github.com/hansjm10/alphred/internal/workflow"
)

func simpleTree() *workflow.TreeDefinition {
	data := []byte(`
id: review-tree
nodes:
  - key: draft
    prompt: write a draft
  - key: review
    prompt: review it
edges:
  - from: draft
    to: review
`)
	def, err := workflow.ParseTreeDefinition(data)
	if err != nil {
		panic(err)
	}
	return def
}

func TestInstantiateRunCreatesPendingRunNodesAndEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, err := InstantiateRun(ctx, s, simpleTree())
	if err != nil {
		t.Fatalf("InstantiateRun: %v", err)
	}
	if runID == "" {
		t.Fatal("expected a non-empty run id")
	}

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != workflow.RunPending {
		t.Errorf("expected RunPending, got %s", run.Status)
	}

	nodes, err := s.ListRunNodes(ctx, runID)
	if err != nil {
		t.Fatalf("ListRunNodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	for _, n := range nodes {
		if n.Status != workflow.NodePending {
			t.Errorf("expected node %s to start pending, got %s", n.NodeKey, n.Status)
		}
		if n.Attempt != 1 {
			t.Errorf("expected node %s to start at attempt 1, got %d", n.NodeKey, n.Attempt)
		}
	}

	edges, err := s.ListRunEdges(ctx, runID)
	if err != nil {
		t.Fatalf("ListRunEdges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	if edges[0].EdgeKind != workflow.EdgeKindTree {
		t.Errorf("expected a tree edge, got %s", edges[0].EdgeKind)
	}
	if !edges[0].Auto {
		t.Error("expected an edge with no guard expression to be auto")
	}
}

func TestInstantiateRunSpawnerGetsJoinNodeID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := []byte(`
id: fan-out-tree
nodes:
  - key: spawner
    role: spawner
    join: j
  - key: j
    role: join
`)
	def, err := workflow.ParseTreeDefinition(data)
	if err != nil {
		t.Fatalf("ParseTreeDefinition: %v", err)
	}

	runID, err := InstantiateRun(ctx, s, def)
	if err != nil {
		t.Fatalf("InstantiateRun: %v", err)
	}

	nodes, err := s.ListRunNodes(ctx, runID)
	if err != nil {
		t.Fatalf("ListRunNodes: %v", err)
	}
	var spawner *workflow.RunNode
	for _, n := range nodes {
		if n.NodeKey == "spawner" {
			spawner = n
		}
	}
	if spawner == nil {
		t.Fatal("expected to find the spawner node")
	}
	if spawner.JoinNodeID == nil {
		t.Fatal("expected the spawner's JoinNodeID to be set")
	}
}
