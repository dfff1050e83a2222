// ABOUTME: Routing-selection builder (C3): derives the selected outgoing edge per completed source.
// ABOUTME: Grounded on the teacher's SelectEdge five-step priority scan, simplified to guard+priority order.
package workflow

// GuardMatcher evaluates whether an edge's guard expression matches a
// persisted routing decision. The concrete CEL-backed implementation lives
// in guard.go; routing selection is agnostic to the expression language.
type GuardMatcher func(edge *RunEdge, decision *RoutingDecision) (bool, error)

// RoutingSelection is the output of BuildRoutingSelection: everything the
// node selector (C4) and context assembler (C5) need to reason about edges
// without re-querying the store.
type RoutingSelection struct {
	LatestByNodeID            map[string]*RunNode
	IncomingEdgesByTarget     map[string][]*RunEdge
	OutgoingEdgesBySource     map[string][]*RunEdge
	SelectedEdgeBySource      map[string]*RunEdge
	NoRouteSources            map[string]bool
	UnresolvedDecisionSources map[string]bool
}

// IsApplicableDecision implements the §4.3 applicable-decision rule: the
// latest persisted decision for a source is in effect only if it was
// recorded at-or-after the source's current attempt and at-or-after the
// source's own latest report artifact.
func IsApplicableDecision(decision *RoutingDecision, source *RunNode, latestArtifact *PhaseArtifact) bool {
	if decision == nil {
		return false
	}
	if decision.Attempt < source.Attempt {
		return false
	}
	if latestArtifact != nil && decision.CreatedAt.Before(latestArtifact.CreatedAt) {
		return false
	}
	return true
}

// BuildRoutingSelection computes the routing-selection view over one run's
// full node and edge sets. latestDecisions and latestArtifacts are keyed by
// run-node id, holding each node's most recent routing decision and most
// recent report artifact respectively (nil entries are fine to omit).
func BuildRoutingSelection(nodes []*RunNode, edges []*RunEdge, latestDecisions map[string]*RoutingDecision, latestArtifacts map[string]*PhaseArtifact, match GuardMatcher) (*RoutingSelection, error) {
	sel := &RoutingSelection{
		LatestByNodeID:            make(map[string]*RunNode, len(nodes)),
		IncomingEdgesByTarget:     make(map[string][]*RunEdge),
		OutgoingEdgesBySource:     make(map[string][]*RunEdge),
		SelectedEdgeBySource:      make(map[string]*RunEdge),
		NoRouteSources:            make(map[string]bool),
		UnresolvedDecisionSources: make(map[string]bool),
	}
	for _, n := range nodes {
		sel.LatestByNodeID[n.ID] = n
	}
	for _, e := range edges {
		sel.IncomingEdgesByTarget[e.TargetRunNodeID] = append(sel.IncomingEdgesByTarget[e.TargetRunNodeID], e)
		sel.OutgoingEdgesBySource[e.SourceRunNodeID] = append(sel.OutgoingEdgesBySource[e.SourceRunNodeID], e)
	}

	for _, n := range nodes {
		var wantRoute RouteOn
		switch n.Status {
		case NodeCompleted:
			wantRoute = RouteSuccess
		case NodeFailed:
			wantRoute = RouteFailure
		default:
			continue
		}
		if err := selectForSource(sel, n, wantRoute, latestDecisions[n.ID], latestArtifacts[n.ID], match); err != nil {
			return nil, err
		}
	}
	return sel, nil
}

func selectForSource(sel *RoutingSelection, source *RunNode, wantRoute RouteOn, decision *RoutingDecision, latestArtifact *PhaseArtifact, match GuardMatcher) error {
	applicable := IsApplicableDecision(decision, source, latestArtifact)
	var effectiveDecision *RoutingDecision
	if applicable {
		effectiveDecision = decision
	}

	// Edges are already ordered (source, routeOn, priority asc, target, id)
	// by the store loader; a priority-ascending scan within this source's
	// matching-route edges preserves that comparator.
	candidates := 0
	for _, e := range sel.OutgoingEdgesBySource[source.ID] {
		if e.RouteOn != wantRoute {
			continue
		}
		if e.EdgeKind == EdgeKindSpawnerToChild {
			// Fan-out exception (§4.3): these are runnable in bulk, not
			// subject to single-route selection.
			continue
		}
		candidates++
		if e.Auto && e.GuardExpression == "" {
			sel.SelectedEdgeBySource[source.ID] = e
			return nil
		}
		if effectiveDecision == nil {
			continue
		}
		ok, err := match(e, effectiveDecision)
		if err != nil {
			return err
		}
		if ok {
			sel.SelectedEdgeBySource[source.ID] = e
			return nil
		}
	}

	if wantRoute != RouteSuccess {
		// Failure edges are optional: a failed source with no matching
		// failure route simply has no successors, handled by the retry/fail
		// path in the node executor rather than as a routing violation.
		return nil
	}
	if candidates == 0 {
		// A sink node has no success edge to route along, so it is neither
		// no_route nor unresolved.
		return nil
	}
	if effectiveDecision != nil {
		sel.NoRouteSources[source.ID] = true
		return nil
	}
	sel.UnresolvedDecisionSources[source.ID] = true
	return nil
}
