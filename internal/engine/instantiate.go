// ABOUTME: Instantiates a pending WorkflowRun plus its static run-nodes/run-edges from a
// ABOUTME: workflow.TreeDefinition, in one transaction. Grounded on the teacher's pipeline-to-DAG build step.
package engine

import (
	"context"
	"fmt"

	"github.com/hansjm10/alphred/internal/store"
	"github.com/hansjm10/alphred/internal/workflow"
)

// InstantiateRun creates a new pending WorkflowRun, then its static
// node/edge rows from def, returning the new run id. The run row is
// inserted first and committed on its own so the foreign-key-checked node
// and edge inserts that follow (one transaction) never race a dangling
// workflow_run_id.
func InstantiateRun(ctx context.Context, s *store.Store, def *workflow.TreeDefinition) (string, error) {
	runID := NewRunID()

	if err := s.CreateRun(ctx, &workflow.WorkflowRun{
		ID:             runID,
		WorkflowTreeID: def.ID,
		Status:         workflow.RunPending,
	}); err != nil {
		return "", err
	}

	err := s.WithTx(ctx, func(tx *store.Tx) error {
		nodeIDs := make(map[string]string, len(def.Nodes))
		for _, n := range def.Nodes {
			nodeIDs[n.Key] = NewNodeID()
		}

		for i, n := range def.Nodes {
			var joinID *string
			if n.Role == string(workflow.RoleSpawner) {
				id := nodeIDs[n.Join]
				joinID = &id
			}

			row := &workflow.RunNode{
				ID:                   nodeIDs[n.Key],
				WorkflowRunID:        runID,
				TreeNodeID:           n.Key,
				NodeKey:              n.Key,
				NodeRole:             workflow.NodeRole(n.Role),
				Status:               workflow.NodePending,
				SequenceIndex:        i,
				SequencePath:         fmt.Sprintf("%d", i),
				LineageDepth:         0,
				JoinNodeID:           joinID,
				Attempt:              1,
				MaxRetries:           n.MaxRetries,
				MaxChildren:          n.MaxChildren,
				NodeType:             workflow.NodeType(n.Type),
				Provider:             n.Provider,
				Model:                n.Model,
				ExecutionPermissions: n.ExecutionPermissions,
				ErrorHandlerConfig:   n.ErrorHandlerConfig,
				Prompt:               n.Prompt,
				PromptContentType:    n.PromptContentType,
			}
			if err := tx.InsertRunNode(ctx, row); err != nil {
				return err
			}
		}

		for _, e := range def.Edges {
			if err := tx.InsertRunEdge(ctx, &workflow.RunEdge{
				ID:              NewEdgeID(),
				WorkflowRunID:   runID,
				SourceRunNodeID: nodeIDs[e.From],
				TargetRunNodeID: nodeIDs[e.To],
				RouteOn:         workflow.RouteOn(e.RouteOn),
				Priority:        e.Priority,
				Auto:            e.Guard == "",
				GuardExpression: e.Guard,
				EdgeKind:        workflow.EdgeKindTree,
			}); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return runID, nil
}
