// ABOUTME: Node executor (C7): claim -> assemble context -> invoke provider -> persist -> route -> barrier.
// ABOUTME: Grounded on the teacher's step-loop shape (attractor/engine.go) and llm streaming-event handling.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hansjm10/alphred/internal/provider"
	"github.com/hansjm10/alphred/internal/store"
	"github.com/hansjm10/alphred/internal/workflow"
)

// StepOutcome is one of the exhaustive outcomes a step can produce (§7).
type StepOutcome string

const (
	StepExecuted    StepOutcome = "executed"
	StepBlocked     StepOutcome = "blocked"
	StepRunTerminal StepOutcome = "run_terminal"
)

// StepResult is returned by ExecuteNextRunnableNode.
type StepResult struct {
	Outcome       StepOutcome
	RunNodeID     string
	RunNodeStatus workflow.NodeStatus
	RunStatus     workflow.RunStatus
}

// Executor drives one run-node through the C7 step algorithm.
type Executor struct {
	Store          *store.Store
	Match          workflow.GuardMatcher
	Providers      *provider.Registry
	OnEvent        func(provider.Event)
	DefaultTimeout time.Duration
}

// ExecuteNextRunnableNode implements the C7/C4/C9 integration point: select
// the next runnable node (or detect a terminal condition) and drive it
// through one step. allowRetries=false implements single-node mode (§4.7).
func (ex *Executor) ExecuteNextRunnableNode(ctx context.Context, runID string, allowRetries bool) (StepResult, error) {
	claimed, result, done, err := ex.claimNext(ctx, runID)
	if err != nil || done {
		return result, err
	}

	if claimed.node.NodeType != workflow.NodeTypeAgent {
		return ex.executeNoOp(ctx, claimed)
	}
	return ex.executeAgent(ctx, claimed, allowRetries)
}

// claimedNode carries everything assembled while the claiming transaction
// was open, so the provider can be invoked outside any open transaction
// (§5's "no suspension may hold a transaction open across a provider call").
type claimedNode struct {
	node      *workflow.RunNode
	promptCtx []string
}

func (ex *Executor) claimNext(ctx context.Context, runID string) (*claimedNode, StepResult, bool, error) {
	var claimed *claimedNode
	var result StepResult
	done := false

	err := ex.Store.WithTx(ctx, func(tx *store.Tx) error {
		run, err := tx.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status.IsTerminal() {
			result = StepResult{Outcome: StepRunTerminal, RunStatus: run.Status}
			done = true
			return nil
		}
		if run.Status == workflow.RunPaused {
			result = StepResult{Outcome: StepBlocked, RunStatus: run.Status}
			done = true
			return nil
		}

		sel, nodes, err := LoadRoutingSelection(ctx, tx, runID, ex.Match)
		if err != nil {
			return err
		}

		ready := func(joinNodeID string) bool {
			ok, _ := IsJoinReady(ctx, tx, joinNodeID)
			return ok
		}

		next, ok := workflow.SelectNextRunnable(nodes, sel, ready)
		if !ok {
			status, _ := workflow.ResolveTerminalRunStatus(nodes, sel)
			if err := persistNoRouteDecisions(ctx, tx, sel); err != nil {
				return err
			}
			now := time.Now()
			if _, err := tx.UpdateRunStatus(ctx, runID, run.Status, status, &now); err != nil {
				return err
			}
			result = StepResult{Outcome: StepRunTerminal, RunStatus: status}
			done = true
			return nil
		}

		claimOK, err := tx.UpdateRunNodeStatus(ctx, store.NodeTransition{
			ID:                 next.ID,
			FromStatus:         workflow.NodePending,
			ToStatus:           workflow.NodeRunning,
			OccurredAt:         time.Now(),
			RequireRunStatusIn: []workflow.RunStatus{workflow.RunPending, workflow.RunRunning},
		})
		if err != nil {
			return err
		}
		if !claimOK {
			return workflow.NewErrPreconditionFailed("run_node", next.ID, string(workflow.NodePending))
		}
		next.Status = workflow.NodeRunning

		// The first claim of a run is what starts it: pending->running has no
		// other trigger (§4.2's run-transition table; no control action causes it).
		if run.Status == workflow.RunPending {
			startedAt := time.Now()
			if _, err := tx.UpdateRunStatus(ctx, runID, workflow.RunPending, workflow.RunRunning, &startedAt); err != nil {
				return err
			}
		}

		if next.NodeRole == workflow.RoleJoin {
			if _, err := ReleaseBarrierForJoin(ctx, tx, next.ID); err != nil {
				return err
			}
		}

		inputs, err := ResolveContextInputs(ctx, tx, next, sel)
		if err != nil {
			return err
		}
		assembled := workflow.AssembleContext(inputs)

		manifestJSON, err := json.Marshal(assembled.Manifest)
		if err != nil {
			return fmt.Errorf("marshal context manifest: %w", err)
		}
		if err := tx.InsertArtifact(ctx, &workflow.PhaseArtifact{
			ID:            NewSortableID(),
			WorkflowRunID: runID,
			RunNodeID:     next.ID,
			ArtifactType:  workflow.ArtifactLog,
			ContentType:   "application/json",
			Content:       string(manifestJSON),
			Metadata:      map[string]any{"kind": "context-manifest", "attempt": next.Attempt},
			CreatedAt:     time.Now(),
		}); err != nil {
			return err
		}

		promptCtx := make([]string, 0, len(assembled.Envelopes))
		for _, e := range assembled.Envelopes {
			promptCtx = append(promptCtx, e.Content)
		}

		claimed = &claimedNode{node: next, promptCtx: promptCtx}
		return nil
	})

	return claimed, result, done, err
}

// persistNoRouteDecisions records a no_route decision for every source the
// routing-selection builder found with a decision that matched no edge
// (§4.3, S6), so the diagnostic survives the transition to a terminal run.
func persistNoRouteDecisions(ctx context.Context, tx *store.Tx, sel *workflow.RoutingSelection) error {
	for sourceID := range sel.NoRouteSources {
		source := sel.LatestByNodeID[sourceID]
		if source == nil {
			continue
		}
		if err := tx.InsertRoutingDecision(ctx, &workflow.RoutingDecision{
			ID:            NewSortableID(),
			WorkflowRunID: source.WorkflowRunID,
			RunNodeID:     source.ID,
			DecisionType:  workflow.DecisionNoRoute,
			CreatedAt:     time.Now(),
			Attempt:       source.Attempt,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (ex *Executor) executeNoOp(ctx context.Context, claimed *claimedNode) (StepResult, error) {
	node := claimed.node
	var runStatus workflow.RunStatus

	err := ex.Store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertArtifact(ctx, &workflow.PhaseArtifact{
			ID:            NewSortableID(),
			WorkflowRunID: node.WorkflowRunID,
			RunNodeID:     node.ID,
			ArtifactType:  workflow.ArtifactReport,
			ContentType:   node.PromptContentType,
			Content:       "",
			CreatedAt:     time.Now(),
		}); err != nil {
			return err
		}

		ok, err := tx.UpdateRunNodeStatus(ctx, store.NodeTransition{
			ID: node.ID, FromStatus: workflow.NodeRunning, ToStatus: workflow.NodeCompleted, OccurredAt: time.Now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return workflow.NewErrPreconditionFailed("run_node", node.ID, string(workflow.NodeRunning))
		}
		node.Status = workflow.NodeCompleted

		if node.JoinNodeID != nil {
			if err := UpdateChildTerminal(ctx, tx, node); err != nil {
				return err
			}
		}

		run, err := tx.GetRun(ctx, node.WorkflowRunID)
		if err != nil {
			return err
		}
		runStatus = run.Status
		return nil
	})
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Outcome: StepExecuted, RunNodeID: node.ID, RunNodeStatus: workflow.NodeCompleted, RunStatus: runStatus}, nil
}

func (ex *Executor) executeAgent(ctx context.Context, claimed *claimedNode, allowRetries bool) (StepResult, error) {
	node := claimed.node

	p, err := ex.Providers.Resolve(node.Provider)
	if err != nil {
		return ex.persistPermanentFailure(ctx, node, provider.NewInvalidConfigError(err.Error()))
	}

	opts := provider.RunOptions{Context: claimed.promptCtx, Timeout: ex.DefaultTimeout}
	events, errs := p.Run(ctx, node.Prompt, opts)

	var result *provider.Event
	var tokensUsed int
	var eventCount int
	var runErr error

	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			eventCount++
			if ex.OnEvent != nil {
				ex.OnEvent(ev)
			}
			if used, ok := ev.Metadata["tokensUsed"].(int); ok {
				tokensUsed = used
			}
			if ev.Type == provider.EventResult {
				evCopy := ev
				result = &evCopy
			}
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			runErr = e
		}
	}

	if runErr != nil {
		return ex.handleFailure(ctx, node, runErr, allowRetries)
	}
	if result == nil {
		return ex.handleFailure(ctx, node, provider.NewMissingResultError(), allowRetries)
	}
	return ex.persistSuccess(ctx, node, *result, tokensUsed, eventCount)
}

func (ex *Executor) persistSuccess(ctx context.Context, node *workflow.RunNode, result provider.Event, tokensUsed, eventCount int) (StepResult, error) {
	var runStatus workflow.RunStatus

	err := ex.Store.WithTx(ctx, func(tx *store.Tx) error {
		routingDecisionStr, hasDecision := provider.RoutingDecisionFromResult(result.Metadata)

		metadata := map[string]any{
			"tokensUsed":    tokensUsed,
			"providerEvents": eventCount,
		}
		if hasDecision {
			metadata["routingDecision"] = routingDecisionStr
		}

		reportID := NewSortableID()
		if err := tx.InsertArtifact(ctx, &workflow.PhaseArtifact{
			ID:            reportID,
			WorkflowRunID: node.WorkflowRunID,
			RunNodeID:     node.ID,
			ArtifactType:  workflow.ArtifactReport,
			ContentType:   node.PromptContentType,
			Content:       result.Content,
			Metadata:      metadata,
			CreatedAt:     time.Now(),
		}); err != nil {
			return err
		}

		if hasDecision {
			if err := tx.InsertRoutingDecision(ctx, &workflow.RoutingDecision{
				ID:            NewSortableID(),
				WorkflowRunID: node.WorkflowRunID,
				RunNodeID:     node.ID,
				DecisionType:  decisionTypeFromSignal(routingDecisionStr),
				CreatedAt:     time.Now(),
				Attempt:       node.Attempt,
				RawOutput:     result.Metadata,
			}); err != nil {
				return err
			}
		}

		ok, err := tx.UpdateRunNodeStatus(ctx, store.NodeTransition{
			ID: node.ID, FromStatus: workflow.NodeRunning, ToStatus: workflow.NodeCompleted, OccurredAt: time.Now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return workflow.NewErrPreconditionFailed("run_node", node.ID, string(workflow.NodeRunning))
		}
		node.Status = workflow.NodeCompleted

		if node.JoinNodeID != nil {
			if err := UpdateChildTerminal(ctx, tx, node); err != nil {
				return err
			}
		}

		if node.NodeRole == workflow.RoleSpawner {
			if subtasks, join, ok := parseSpawnReport(ctx, tx, node, result.Content); ok {
				if err := SpawnChildren(ctx, tx, node, join, subtasks, reportID); err != nil {
					return err
				}
			}
		}

		run, err := tx.GetRun(ctx, node.WorkflowRunID)
		if err != nil {
			return err
		}
		runStatus = run.Status
		return nil
	})
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Outcome: StepExecuted, RunNodeID: node.ID, RunNodeStatus: workflow.NodeCompleted, RunStatus: runStatus}, nil
}

func decisionTypeFromSignal(signal string) workflow.DecisionType {
	switch signal {
	case "approved":
		return workflow.DecisionApproved
	case "changes_requested":
		return workflow.DecisionChangesRequested
	case "blocked":
		return workflow.DecisionBlocked
	case "retry":
		return workflow.DecisionRetry
	default:
		return workflow.DecisionNoRoute
	}
}

// spawnPayload is the opaque subtask-list contract a spawner's report may
// declare, enumerated by the spawner's own prompt template (§4.8).
type spawnPayload struct {
	Subtasks []struct {
		NodeKey  string         `json:"nodeKey"`
		Title    string         `json:"title"`
		Prompt   string         `json:"prompt"`
		Provider string         `json:"provider"`
		Model    string         `json:"model"`
		Metadata map[string]any `json:"metadata"`
	} `json:"subtasks"`
}

func parseSpawnReport(ctx context.Context, tx *store.Tx, spawner *workflow.RunNode, content string) ([]Subtask, *workflow.RunNode, bool) {
	var payload spawnPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil || len(payload.Subtasks) == 0 {
		return nil, nil, false
	}
	join, err := tx.GetRunNode(ctx, stringOrEmpty(spawner.JoinNodeID))
	if err != nil || join == nil {
		return nil, nil, false
	}

	subtasks := make([]Subtask, 0, len(payload.Subtasks))
	for _, st := range payload.Subtasks {
		subtasks = append(subtasks, Subtask{
			NodeKey:  st.NodeKey,
			Title:    st.Title,
			Prompt:   st.Prompt,
			Provider: st.Provider,
			Model:    st.Model,
			Metadata: st.Metadata,
		})
	}
	return subtasks, join, true
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (ex *Executor) handleFailure(ctx context.Context, node *workflow.RunNode, runErr error, allowRetries bool) (StepResult, error) {
	classification, retryable, _, _ := classifyProviderError(runErr)

	if allowRetries && node.Attempt <= node.MaxRetries && retryable {
		return ex.persistRetry(ctx, node, runErr, classification)
	}
	return ex.persistPermanentFailure(ctx, node, runErr)
}

func classifyProviderError(err error) (classification string, retryable bool, statusCode int, failureCode string) {
	if pe, ok := err.(*provider.Error); ok {
		return string(pe.Classification), pe.Retryable, pe.StatusCode, pe.FailureCode
	}
	return string(provider.ClassInternal), false, 0, ""
}

func (ex *Executor) persistRetry(ctx context.Context, node *workflow.RunNode, runErr error, classification string) (StepResult, error) {
	var runStatus workflow.RunStatus
	priorAttempt := node.Attempt

	err := ex.Store.WithTx(ctx, func(tx *store.Tx) error {
		ok, err := tx.UpdateRunNodeStatus(ctx, store.NodeTransition{ID: node.ID, FromStatus: workflow.NodeRunning, ToStatus: workflow.NodeFailed, OccurredAt: time.Now()})
		if err != nil {
			return err
		}
		if !ok {
			return workflow.NewErrPreconditionFailed("run_node", node.ID, string(workflow.NodeRunning))
		}
		node.Status = workflow.NodeFailed

		if node.JoinNodeID != nil {
			if err := UpdateChildTerminal(ctx, tx, node); err != nil {
				return err
			}
		}

		summary, _, _ := truncateForSummary(runErr.Error())
		if err := tx.InsertArtifact(ctx, &workflow.PhaseArtifact{
			ID:            NewSortableID(),
			WorkflowRunID: node.WorkflowRunID,
			RunNodeID:     node.ID,
			ArtifactType:  workflow.ArtifactNote,
			ContentType:   "text/plain",
			Content:       summary,
			Metadata:      map[string]any{"kind": retryFailureSummaryKind, "sourceAttempt": priorAttempt, "classification": classification},
			CreatedAt:     time.Now(),
		}); err != nil {
			return err
		}

		ok, err = tx.UpdateRunNodeStatus(ctx, store.NodeTransition{ID: node.ID, FromStatus: workflow.NodeFailed, ToStatus: workflow.NodePending, OccurredAt: time.Now(), IncrementAttempt: true})
		if err != nil {
			return err
		}
		if !ok {
			return workflow.NewErrPreconditionFailed("run_node", node.ID, string(workflow.NodeFailed))
		}
		node.Status = workflow.NodePending

		if node.JoinNodeID != nil {
			if err := ReopenBarrierForRetry(ctx, tx, node); err != nil {
				return err
			}
		}

		run, err := tx.GetRun(ctx, node.WorkflowRunID)
		if err != nil {
			return err
		}
		runStatus = run.Status
		return nil
	})
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Outcome: StepExecuted, RunNodeID: node.ID, RunNodeStatus: workflow.NodePending, RunStatus: runStatus}, nil
}

func (ex *Executor) persistPermanentFailure(ctx context.Context, node *workflow.RunNode, runErr error) (StepResult, error) {
	classification, retryable, statusCode, failureCode := classifyProviderError(runErr)
	var runStatus workflow.RunStatus

	err := ex.Store.WithTx(ctx, func(tx *store.Tx) error {
		ok, err := tx.UpdateRunNodeStatus(ctx, store.NodeTransition{ID: node.ID, FromStatus: workflow.NodeRunning, ToStatus: workflow.NodeFailed, OccurredAt: time.Now()})
		if err != nil {
			return err
		}
		if !ok {
			return workflow.NewErrPreconditionFailed("run_node", node.ID, string(workflow.NodeRunning))
		}
		node.Status = workflow.NodeFailed

		if err := tx.InsertArtifact(ctx, &workflow.PhaseArtifact{
			ID:            NewSortableID(),
			WorkflowRunID: node.WorkflowRunID,
			RunNodeID:     node.ID,
			ArtifactType:  workflow.ArtifactLog,
			ContentType:   "text/plain",
			Content:       runErr.Error(),
			Metadata: map[string]any{
				"classification": classification,
				"retryable":      retryable,
				"statusCode":     statusCode,
				"failureCode":    failureCode,
				"failureRoute":   true,
			},
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}

		if node.JoinNodeID != nil {
			if err := UpdateChildTerminal(ctx, tx, node); err != nil {
				return err
			}
		}

		run, err := tx.GetRun(ctx, node.WorkflowRunID)
		if err != nil {
			return err
		}
		runStatus = run.Status

		// Unless a failure or terminal edge routes on from this node, its
		// permanent failure ends the run.
		sel, _, err := LoadRoutingSelection(ctx, tx, node.WorkflowRunID, ex.Match)
		if err != nil {
			return err
		}
		routed := sel.SelectedEdgeBySource[node.ID] != nil
		for _, e := range sel.OutgoingEdgesBySource[node.ID] {
			routed = routed || e.RouteOn == workflow.RouteTerminal
		}
		if !routed && run.Status == workflow.RunRunning {
			now := time.Now()
			if _, err := tx.UpdateRunStatus(ctx, node.WorkflowRunID, run.Status, workflow.RunFailed, &now); err != nil {
				return err
			}
			runStatus = workflow.RunFailed
		}
		return nil
	})
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Outcome: StepExecuted, RunNodeID: node.ID, RunNodeStatus: workflow.NodeFailed, RunStatus: runStatus}, nil
}

// truncateForSummary bounds a failure message to MaxErrorSummaryChars with a
// head+tail split, mirroring the context assembler's truncation shape
// without reaching into its unexported helper.
func truncateForSummary(message string) (result string, applied bool, originalChars int) {
	const sentinel = "\n...[truncated]...\n"
	originalChars = len(message)
	max := workflow.MaxErrorSummaryChars
	if originalChars <= max {
		return message, false, originalChars
	}
	if max <= len(sentinel) {
		return message[:max], true, originalChars
	}
	budget := max - len(sentinel)
	headLen := budget / 2
	tailLen := budget - headLen
	return message[:headLen] + sentinel + message[originalChars-tailLen:], true, originalChars
}
