// ABOUTME: Node selector (C4): runnability predicate, selection order, and terminal-outcome resolution.
// ABOUTME: Nodes are expected pre-sorted by (sequencePath, sequenceIndex, nodeKey, id) by the store loader.
package workflow

// BarrierReady resolves whether a join node's active barrier (if any) has
// reached status=ready. Returns false for any node that is not a join, or
// for a join with no ready barrier yet.
type BarrierReady func(joinNodeID string) bool

// IsRunnable implements the §4.4 runnability predicate for a single node
// against an already-built routing selection.
func IsRunnable(node *RunNode, sel *RoutingSelection, ready BarrierReady) bool {
	if node.Status != NodePending {
		return false
	}

	for _, e := range sel.IncomingEdgesByTarget[node.ID] {
		src := sel.LatestByNodeID[e.SourceRunNodeID]
		if src == nil {
			return false
		}
		switch e.RouteOn {
		case RouteSuccess:
			if src.Status != NodeCompleted {
				return false
			}
			if e.EdgeKind == EdgeKindSpawnerToChild {
				// Fan-out exception: runnable as soon as the spawner
				// completes, independent of single-route selection.
				continue
			}
			if sel.SelectedEdgeBySource[src.ID] != e {
				return false
			}
		case RouteFailure:
			if src.Status != NodeFailed {
				return false
			}
			if sel.SelectedEdgeBySource[src.ID] != e {
				return false
			}
		case RouteTerminal:
			if !src.Status.IsTerminal() {
				return false
			}
		}
	}

	if node.NodeRole == RoleJoin && !ready(node.ID) {
		return false
	}
	return true
}

// SelectNextRunnable returns the first runnable node in selection order, or
// false if none is runnable.
func SelectNextRunnable(nodes []*RunNode, sel *RoutingSelection, ready BarrierReady) (*RunNode, bool) {
	for _, n := range nodes {
		if IsRunnable(n, sel, ready) {
			return n, true
		}
	}
	return nil, false
}

// ResolveTerminalRunStatus determines the run-level outcome once no node is
// runnable (§4.4): no_route/unresolved-decision conditions win first, then
// all-terminal-success, then any unauthorised failure.
func ResolveTerminalRunStatus(nodes []*RunNode, sel *RoutingSelection) (status RunStatus, diagnostic string) {
	if len(sel.NoRouteSources) > 0 {
		return RunFailed, "no_route: a completed node's routing decision matched no outgoing edge"
	}
	if len(sel.UnresolvedDecisionSources) > 0 {
		return RunFailed, "unresolved_decision: a completed node produced no applicable routing decision"
	}

	allTerminalSuccess := true
	anyFailed := false
	for _, n := range nodes {
		switch n.Status {
		case NodeCompleted, NodeSkipped:
		case NodeFailed:
			anyFailed = true
			allTerminalSuccess = false
		default:
			allTerminalSuccess = false
		}
	}
	if allTerminalSuccess {
		return RunCompleted, ""
	}
	if anyFailed {
		return RunFailed, "node_failed: a run-node reached failed with no further retry authorised"
	}
	return RunFailed, "no_runnable_node: no node is runnable and no node has failed"
}
