// ABOUTME: Lifecycle guards (C2): allowed status-transition tables for runs and run-nodes.
// ABOUTME: Grounded on the teacher's guarded-write philosophy (attractor/engine.go status handling).
package workflow

// runTransitions enumerates every allowed workflow-run transition. A
// transition absent from this table is rejected with ErrInvalidTransition
// before any conditional UPDATE is attempted.
var runTransitions = map[RunStatus][]RunStatus{
	RunPending:   {RunRunning, RunCancelled},
	RunRunning:   {RunPaused, RunCompleted, RunFailed, RunCancelled},
	RunPaused:    {RunRunning, RunCancelled},
	RunFailed:    {RunRunning},
	RunCompleted: {},
	RunCancelled: {},
}

// IsAllowedRunTransition reports whether from->to is a permitted run-status
// transition.
func IsAllowedRunTransition(from, to RunStatus) bool {
	for _, candidate := range runTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// nodeTransitions enumerates every allowed run-node transition (§4.2).
// running->pending is deliberately absent: a running node may only reach
// pending by first failing.
var nodeTransitions = map[NodeStatus][]NodeStatus{
	NodePending:   {NodeRunning},
	NodeRunning:   {NodeCompleted, NodeFailed},
	NodeFailed:    {NodeRunning, NodePending},
	NodeCompleted: {NodePending},
	NodeSkipped:   {NodePending},
}

// IsAllowedNodeTransition reports whether from->to is a permitted run-node
// status transition.
func IsAllowedNodeTransition(from, to NodeStatus) bool {
	for _, candidate := range nodeTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
