// ABOUTME: Domain entity types for the SQL-backed workflow executor (§3 of the spec).
// ABOUTME: WorkflowRun, RunNode, RunEdge, RoutingDecision, PhaseArtifact, and RunJoinBarrier.
package workflow

import "time"

// RunStatus is the lifecycle status of a WorkflowRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run status admits no outgoing transitions.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// NodeStatus is the lifecycle status of a RunNode.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// IsTerminal reports whether the node status is one of the terminal statuses
// (completed, failed, skipped).
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeSkipped:
		return true
	default:
		return false
	}
}

// NodeRole distinguishes ordinary nodes from fan-out spawners and their joins.
type NodeRole string

const (
	RoleStandard NodeRole = "standard"
	RoleSpawner  NodeRole = "spawner"
	RoleJoin     NodeRole = "join"
)

// NodeType determines whether execution invokes a provider at all.
type NodeType string

const (
	NodeTypeAgent NodeType = "agent"
	NodeTypeHuman NodeType = "human"
	NodeTypeTool  NodeType = "tool"
)

// RouteOn discriminates the triggering condition of a RunEdge.
type RouteOn string

const (
	RouteSuccess  RouteOn = "success"
	RouteFailure  RouteOn = "failure"
	RouteTerminal RouteOn = "terminal"
)

// EdgeKind distinguishes statically authored edges from edges materialised at
// fan-out time.
type EdgeKind string

const (
	EdgeKindTree            EdgeKind = "tree"
	EdgeKindSpawnerToChild  EdgeKind = "dynamic_spawner_to_child"
	EdgeKindChildToJoin     EdgeKind = "dynamic_child_to_join"
)

// DecisionType is the agent-declared (or synthesised) routing signal for a
// completed or failed run-node.
type DecisionType string

const (
	DecisionApproved         DecisionType = "approved"
	DecisionChangesRequested DecisionType = "changes_requested"
	DecisionBlocked          DecisionType = "blocked"
	DecisionRetry            DecisionType = "retry"
	DecisionNoRoute          DecisionType = "no_route"
)

// ArtifactType discriminates the kind of PhaseArtifact.
type ArtifactType string

const (
	ArtifactReport ArtifactType = "report"
	ArtifactLog    ArtifactType = "log"
	ArtifactNote   ArtifactType = "note"
)

// BarrierStatus is the lifecycle status of a RunJoinBarrier.
type BarrierStatus string

const (
	BarrierPending  BarrierStatus = "pending"
	BarrierReady    BarrierStatus = "ready"
	BarrierReleased BarrierStatus = "released"
)

// WorkflowRun is one materialised execution of a workflow tree.
type WorkflowRun struct {
	ID             string
	WorkflowTreeID string
	Status         RunStatus
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// RunNode is one scheduled execution of a tree node within a specific run.
type RunNode struct {
	ID                   string
	WorkflowRunID        string
	TreeNodeID           string
	NodeKey              string
	NodeRole             NodeRole
	Status               NodeStatus
	SequenceIndex        int
	SequencePath         string
	LineageDepth         int
	SpawnerNodeID        *string
	JoinNodeID           *string
	Attempt              int
	StartedAt            *time.Time
	CompletedAt          *time.Time
	MaxRetries           int
	MaxChildren          int
	NodeType             NodeType
	Provider             string
	Model                string
	ExecutionPermissions string
	ErrorHandlerConfig   string
	Prompt               string
	PromptContentType    string
}

// RunEdge is a directed, guarded transition between two run-nodes.
type RunEdge struct {
	ID               string
	WorkflowRunID    string
	SourceRunNodeID  string
	TargetRunNodeID  string
	RouteOn          RouteOn
	Priority         int
	Auto             bool
	GuardExpression  string
	EdgeKind         EdgeKind
}

// RoutingDecision is the agent-declared (or synthesised) routing signal
// persisted for a run-node attempt.
type RoutingDecision struct {
	ID            string
	WorkflowRunID string
	RunNodeID     string
	DecisionType  DecisionType
	CreatedAt     time.Time
	Attempt       int
	RawOutput     map[string]any
}

// PhaseArtifact is a piece of content produced by a run-node execution.
type PhaseArtifact struct {
	ID            string
	WorkflowRunID string
	RunNodeID     string
	ArtifactType  ArtifactType
	ContentType   string
	Content       string
	Metadata      map[string]any
	CreatedAt     time.Time
}

// RunJoinBarrier tracks the fan-out/join accounting for one spawner's report.
type RunJoinBarrier struct {
	ID                   string
	WorkflowRunID        string
	SpawnerRunNodeID     string
	JoinRunNodeID        string
	SpawnSourceArtifactID string
	ExpectedChildren     int
	TerminalChildren     int
	CompletedChildren    int
	FailedChildren       int
	Status               BarrierStatus
}
