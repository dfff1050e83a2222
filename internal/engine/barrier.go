// ABOUTME: Fan-out / join barrier (C8): spawn, child-terminal accounting, release, retry reopen.
// ABOUTME: Grounded on attractor/parallel.go's ExecuteParallelBranches/MergeContexts join-policy shape.
package engine

import (
	"context"
	"fmt"

	"github.com/hansjm10/alphred/internal/store"
	"github.com/hansjm10/alphred/internal/workflow"
)

// Subtask describes one child to spawn from a completed spawner's report.
// The payload contract is opaque to the executor -- it is enumerated by the
// spawner's own prompt template -- so this struct only names the fields the
// fan-out mechanics need (§4.8).
type Subtask struct {
	NodeKey  string
	Title    string
	Prompt   string
	Provider string
	Model    string
	Metadata map[string]any
}

// SpawnChildren allocates N child run-nodes, their dynamic edges, and a
// fresh join barrier for a completed spawner's report, within tx. Must run
// in the same transaction that will also persist the spawner's own
// completion (§4.8 step 1-4).
func SpawnChildren(ctx context.Context, tx *store.Tx, spawner, join *workflow.RunNode, subtasks []Subtask, reportArtifactID string) error {
	active, err := tx.ListActiveBarriers(ctx, spawner.ID, join.ID)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return workflow.NewErrInvariantViolation("cannot emit another fan-out batch: an active barrier already exists for this spawner/join pair", spawner.WorkflowRunID, spawner.NodeKey, active[0].ID)
	}

	n := len(subtasks)
	if n > spawner.MaxChildren {
		return workflow.NewErrInvalidRequest(fmt.Sprintf("spawner %q declared %d subtasks, exceeding maxChildren=%d", spawner.NodeKey, n, spawner.MaxChildren))
	}

	edges, err := tx.ListRunEdges(ctx, spawner.WorkflowRunID)
	if err != nil {
		return err
	}
	maxStatic, found := store.MaxStaticSuccessPriority(edges, spawner.ID)
	childPriority := 0
	if found {
		// Dynamic edges must sort strictly after the static success edges
		// from this spawner so the static spawner->join route stays selected
		// when no fan-out is in flight (§9).
		childPriority = maxStatic + 1
	}

	for i, st := range subtasks {
		child := &workflow.RunNode{
			ID:                   NewNodeID(),
			WorkflowRunID:        spawner.WorkflowRunID,
			TreeNodeID:           spawner.TreeNodeID,
			NodeKey:              st.NodeKey,
			NodeRole:             workflow.RoleStandard,
			Status:               workflow.NodePending,
			SequenceIndex:        i,
			SequencePath:         fmt.Sprintf("%s.%d", spawner.SequencePath, i),
			LineageDepth:         spawner.LineageDepth + 1,
			SpawnerNodeID:        &spawner.ID,
			JoinNodeID:           &join.ID,
			Attempt:              1,
			MaxRetries:           spawner.MaxRetries,
			MaxChildren:          0,
			NodeType:             workflow.NodeTypeAgent,
			Provider:             st.Provider,
			Model:                st.Model,
			ExecutionPermissions: spawner.ExecutionPermissions,
			ErrorHandlerConfig:   spawner.ErrorHandlerConfig,
			Prompt:               st.Prompt,
			PromptContentType:    "text/plain",
		}
		if err := tx.InsertRunNode(ctx, child); err != nil {
			return err
		}

		if err := tx.InsertRunEdge(ctx, &workflow.RunEdge{
			ID:              NewEdgeID(),
			WorkflowRunID:   spawner.WorkflowRunID,
			SourceRunNodeID: spawner.ID,
			TargetRunNodeID: child.ID,
			RouteOn:         workflow.RouteSuccess,
			Priority:        childPriority,
			Auto:            true,
			EdgeKind:        workflow.EdgeKindSpawnerToChild,
		}); err != nil {
			return err
		}

		if err := tx.InsertRunEdge(ctx, &workflow.RunEdge{
			ID:              NewEdgeID(),
			WorkflowRunID:   spawner.WorkflowRunID,
			SourceRunNodeID: child.ID,
			TargetRunNodeID: join.ID,
			RouteOn:         workflow.RouteSuccess,
			Priority:        0,
			Auto:            true,
			EdgeKind:        workflow.EdgeKindChildToJoin,
		}); err != nil {
			return err
		}
	}

	return tx.InsertBarrier(ctx, &workflow.RunJoinBarrier{
		ID:                    NewBarrierID(),
		WorkflowRunID:         spawner.WorkflowRunID,
		SpawnerRunNodeID:      spawner.ID,
		JoinRunNodeID:         join.ID,
		SpawnSourceArtifactID: reportArtifactID,
		ExpectedChildren:      n,
		Status:                workflow.BarrierPending,
	})
}

// UpdateChildTerminal accounts for a dynamic child reaching a terminal
// node-status, within the same transaction that flips the child's own
// status row (§4.8 "Child terminal update").
func UpdateChildTerminal(ctx context.Context, tx *store.Tx, child *workflow.RunNode) error {
	if child.SpawnerNodeID == nil || child.JoinNodeID == nil {
		return nil
	}

	active, err := tx.ListActiveBarriers(ctx, *child.SpawnerNodeID, *child.JoinNodeID)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}
	if len(active) > 1 {
		return workflow.NewErrInvariantViolation("multiple active barriers for one spawner/join pair", child.WorkflowRunID, child.NodeKey, active[0].ID)
	}
	b := active[0]

	completedDelta, failedDelta := 0, 0
	switch child.Status {
	case workflow.NodeCompleted:
		completedDelta = 1
	case workflow.NodeFailed:
		failedDelta = 1
	default:
		return nil
	}

	ok, err := tx.UpdateBarrierCounters(ctx, store.BarrierCounterDelta{
		ID:             b.ID,
		TerminalDelta:  1,
		CompletedDelta: completedDelta,
		FailedDelta:    failedDelta,
		RequireStatus:  b.Status,
	})
	if err != nil {
		return err
	}
	if !ok {
		return workflow.NewErrPreconditionFailed("run_join_barrier", b.ID, string(b.Status))
	}

	if b.TerminalChildren+1 == b.ExpectedChildren {
		if _, err := tx.MarkBarrierReady(ctx, b.ID); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseBarrierForJoin claims the ready barrier belonging to a join node,
// transitioning it to released atomically with the join's own claim. The
// caller is responsible for claiming the join node itself in the same
// transaction (§4.8 "Barrier release").
func ReleaseBarrierForJoin(ctx context.Context, tx *store.Tx, joinRunNodeID string) (*workflow.RunJoinBarrier, error) {
	active, err := tx.ListActiveBarriersByJoin(ctx, joinRunNodeID)
	if err != nil {
		return nil, err
	}
	for _, b := range active {
		if b.Status != workflow.BarrierReady {
			continue
		}
		ok, err := tx.ReleaseBarrier(ctx, b.ID, workflow.BarrierReady)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, workflow.NewErrPreconditionFailed("run_join_barrier", b.ID, string(workflow.BarrierReady))
		}
		return b, nil
	}
	return nil, workflow.NewErrNotFound("ready_run_join_barrier", joinRunNodeID)
}

// IsJoinReady reports whether a join node has a ready barrier, for use as
// workflow.BarrierReady by the node selector (C4).
func IsJoinReady(ctx context.Context, tx *store.Tx, joinRunNodeID string) (bool, error) {
	active, err := tx.ListActiveBarriersByJoin(ctx, joinRunNodeID)
	if err != nil {
		return false, err
	}
	for _, b := range active {
		if b.Status == workflow.BarrierReady {
			return true, nil
		}
	}
	return false, nil
}

// ReopenBarrierForRetry reopens a child's barrier when a previously-failed
// child is retried back to pending (§4.8 "Retry reopen"). Applies whether
// the barrier was ready or already released. The caller only ever invokes
// this for a child transitioning out of failed, so both counters it was
// credited toward on failure -- terminalChildren and failedChildren -- are
// unconditionally decremented by one.
func ReopenBarrierForRetry(ctx context.Context, tx *store.Tx, child *workflow.RunNode) error {
	if child.SpawnerNodeID == nil || child.JoinNodeID == nil {
		return nil
	}

	b, err := tx.FindBarrier(ctx, *child.SpawnerNodeID, *child.JoinNodeID)
	if err != nil {
		if _, ok := err.(*workflow.ErrNotFound); ok {
			return nil
		}
		return err
	}
	return tx.ReopenBarrier(ctx, b.ID, 1, 1)
}
