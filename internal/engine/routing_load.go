// ABOUTME: Glue between the store and the routing-selection builder: loads one run's rows and
// ABOUTME: feeds them to workflow.BuildRoutingSelection so C3 stays a pure in-memory function.
package engine

import (
	"context"

	"github.com/hansjm10/alphred/internal/store"
	"github.com/hansjm10/alphred/internal/workflow"
)

// LoadRoutingSelection loads every run-node, run-edge, latest routing
// decision, and latest report artifact for a run, then builds the routing
// selection used by the node selector (C4) and context assembler (C5).
func LoadRoutingSelection(ctx context.Context, tx *store.Tx, runID string, match workflow.GuardMatcher) (*workflow.RoutingSelection, []*workflow.RunNode, error) {
	nodes, err := tx.ListRunNodes(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	edges, err := tx.ListRunEdges(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	latestDecisions, err := tx.LatestRoutingDecisionsByRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}

	latestArtifacts := make(map[string]*workflow.PhaseArtifact, len(nodes))
	for _, n := range nodes {
		a, err := tx.LatestArtifactByNodeAndType(ctx, n.ID, workflow.ArtifactReport)
		if err != nil {
			return nil, nil, err
		}
		if a != nil {
			latestArtifacts[n.ID] = a
		}
	}

	sel, err := workflow.BuildRoutingSelection(nodes, edges, latestDecisions, latestArtifacts, match)
	if err != nil {
		return nil, nil, err
	}
	return sel, nodes, nil
}
