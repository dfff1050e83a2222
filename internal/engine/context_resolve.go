// ABOUTME: Resolves workflow.ContextInputs for a target node from store rows: predecessors,
// ABOUTME: retry-summary, and failure-route context, ahead of the pure context-assembly pass (C5).
package engine

import (
	"context"
	"sort"

	"github.com/hansjm10/alphred/internal/store"
	"github.com/hansjm10/alphred/internal/workflow"
)

// retryFailureSummaryKind tags a "note" artifact as a retry-failure summary
// in its metadata, alongside sourceAttempt identifying which attempt failed.
const retryFailureSummaryKind = "retry-failure-summary"

// ResolveContextInputs assembles everything AssembleContext needs for one
// target node about to execute, reading whatever rows are necessary from tx.
func ResolveContextInputs(ctx context.Context, tx *store.Tx, target *workflow.RunNode, sel *workflow.RoutingSelection) (workflow.ContextInputs, error) {
	in := workflow.ContextInputs{Target: target}

	preds, err := resolvePredecessors(ctx, tx, target, sel)
	if err != nil {
		return in, err
	}
	in.Predecessors = preds

	if target.Attempt > 1 {
		summary, err := latestRetrySummary(ctx, tx, target.ID, target.Attempt-1)
		if err != nil {
			return in, err
		}
		in.RetrySummary = summary
	}

	failureRoute, err := resolveFailureRoute(ctx, tx, target, sel)
	if err != nil {
		return in, err
	}
	in.FailureRoute = failureRoute

	return in, nil
}

func resolvePredecessors(ctx context.Context, tx *store.Tx, target *workflow.RunNode, sel *workflow.RoutingSelection) ([]workflow.PredecessorArtifact, error) {
	type candidate struct {
		source *workflow.RunNode
	}
	var candidates []candidate

	for _, e := range sel.IncomingEdgesByTarget[target.ID] {
		if e.RouteOn != workflow.RouteSuccess {
			continue
		}
		source := sel.LatestByNodeID[e.SourceRunNodeID]
		if source == nil || source.Status != workflow.NodeCompleted {
			continue
		}
		if sel.SelectedEdgeBySource[source.ID] != e {
			continue
		}
		candidates = append(candidates, candidate{source: source})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].source, candidates[j].source
		if a.SequencePath != b.SequencePath {
			return a.SequencePath < b.SequencePath
		}
		if a.SequenceIndex != b.SequenceIndex {
			return a.SequenceIndex < b.SequenceIndex
		}
		if a.NodeKey != b.NodeKey {
			return a.NodeKey < b.NodeKey
		}
		return a.ID < b.ID
	})

	preds := make([]workflow.PredecessorArtifact, 0, len(candidates))
	for _, c := range candidates {
		artifacts, err := tx.ListArtifactsByNode(ctx, c.source.ID)
		if err != nil {
			return nil, err
		}
		report, _ := tx.LatestArtifactByNodeAndType(ctx, c.source.ID, workflow.ArtifactReport)
		preds = append(preds, workflow.PredecessorArtifact{
			SourceRunNodeID: c.source.ID,
			HasAnyArtifact:  len(artifacts) > 0,
			Artifact:        report,
		})
	}
	return preds, nil
}

func latestRetrySummary(ctx context.Context, tx *store.Tx, runNodeID string, sourceAttempt int) (*workflow.PhaseArtifact, error) {
	artifacts, err := tx.ListArtifactsByNode(ctx, runNodeID)
	if err != nil {
		return nil, err
	}
	var found *workflow.PhaseArtifact
	for _, a := range artifacts {
		if a.ArtifactType != workflow.ArtifactNote {
			continue
		}
		if kind, _ := a.Metadata["kind"].(string); kind != retryFailureSummaryKind {
			continue
		}
		sa, ok := a.Metadata["sourceAttempt"].(float64)
		if !ok || int(sa) != sourceAttempt {
			continue
		}
		if found == nil || a.CreatedAt.After(found.CreatedAt) {
			found = a
		}
	}
	return found, nil
}

func resolveFailureRoute(ctx context.Context, tx *store.Tx, target *workflow.RunNode, sel *workflow.RoutingSelection) (*workflow.FailureRouteContext, error) {
	for _, e := range sel.IncomingEdgesByTarget[target.ID] {
		if e.RouteOn != workflow.RouteFailure {
			continue
		}
		source := sel.LatestByNodeID[e.SourceRunNodeID]
		if source == nil || source.Status != workflow.NodeFailed {
			continue
		}
		if sel.SelectedEdgeBySource[source.ID] != e {
			continue
		}

		failureArtifact, err := tx.LatestArtifactByNodeAndType(ctx, source.ID, workflow.ArtifactLog)
		if err != nil {
			return nil, err
		}
		retrySummary, err := latestRetrySummary(ctx, tx, source.ID, source.Attempt-1)
		if err != nil {
			return nil, err
		}

		reason := ""
		if failureArtifact != nil {
			if classification, ok := failureArtifact.Metadata["classification"].(string); ok {
				reason = classification
			}
		}

		return &workflow.FailureRouteContext{
			SourceNode:       source,
			RetriesExhausted: source.Attempt > source.MaxRetries,
			RetriesUsed:      source.Attempt,
			FailureReason:    reason,
			FailureArtifact:  failureArtifact,
			RetrySummary:     retrySummary,
		}, nil
	}
	return nil, nil
}
