// ABOUTME: End-to-end scenario tests driving Controller/Executor against scripted Fake providers.
package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hansjm10/alphred/internal/provider"
	"github.com/hansjm10/alphred/internal/store"
	"github.com/hansjm10/alphred/internal/workflow"
)

// sequencedResult is one scripted outcome for sequencedFake: either a
// terminal result (with an optional routing decision / raw content) or an
// error in place of a clean stream close.
type sequencedResult struct {
	decision string
	content  string
	err      error
}

// sequencedFake is a Provider that replays a distinct scripted outcome on
// each successive Run call, in call order -- grounded on provider.Fake but
// extended to script a whole run's worth of node executions in one table.
type sequencedFake struct {
	results []sequencedResult
	calls   int
}

func (f *sequencedFake) Run(ctx context.Context, prompt string, opts provider.RunOptions) (<-chan provider.Event, <-chan error) {
	if f.calls >= len(f.results) {
		panic("sequencedFake: more Run calls than scripted results")
	}
	r := f.results[f.calls]
	f.calls++

	events := make(chan provider.Event, 2)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errs)
		if r.err != nil {
			errs <- r.err
			return
		}
		content := r.content
		if content == "" {
			content = "report content"
		}
		for _, ev := range provider.NewFakeResult(content, r.decision) {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, errs
}

func mustGuardEvaluator(t *testing.T) *workflow.GuardEvaluator {
	t.Helper()
	g, err := workflow.NewGuardEvaluator()
	if err != nil {
		t.Fatalf("NewGuardEvaluator: %v", err)
	}
	return g
}

func latestContextManifest(t *testing.T, s *store.Store, nodeID string) workflow.ContextManifest {
	t.Helper()
	ctx := context.Background()
	var manifest workflow.ContextManifest
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		a, err := tx.LatestArtifactByNodeAndType(ctx, nodeID, workflow.ArtifactLog)
		if err != nil {
			return err
		}
		if a == nil {
			t.Fatal("expected a context-manifest artifact")
		}
		return json.Unmarshal([]byte(a.Content), &manifest)
	})
	if err != nil {
		t.Fatalf("load context manifest: %v", err)
	}
	return manifest
}

// S1: linear two-node success.
func TestScenarioLinearTwoNodeSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := []byte(`
id: s1-tree
nodes:
  - key: a
  - key: b
edges:
  - from: a
    to: b
`)
	def, err := workflow.ParseTreeDefinition(data)
	if err != nil {
		t.Fatalf("ParseTreeDefinition: %v", err)
	}
	runID, err := InstantiateRun(ctx, s, def)
	if err != nil {
		t.Fatalf("InstantiateRun: %v", err)
	}

	fake := &provider.Fake{Events: provider.NewFakeResult("draft", "approved")}
	ex := newExecutor(s, fake)
	ctrl := NewController(ex)

	result, err := ctrl.ExecuteRun(ctx, runID, 10)
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
	if result.RunStatus != workflow.RunCompleted {
		t.Fatalf("expected RunCompleted, got %s", result.RunStatus)
	}

	nodes, err := s.ListRunNodes(ctx, runID)
	if err != nil {
		t.Fatalf("ListRunNodes: %v", err)
	}
	var nodeB *workflow.RunNode
	for _, n := range nodes {
		if n.NodeKey == "b" {
			nodeB = n
		}
		if n.Status != workflow.NodeCompleted {
			t.Errorf("expected node %s completed, got %s", n.NodeKey, n.Status)
		}
	}
	if nodeB == nil {
		t.Fatal("expected node b")
	}

	manifest := latestContextManifest(t, s, nodeB.ID)
	if manifest.IncludedCount != 1 {
		t.Errorf("expected b's context manifest to include 1 predecessor report, got %d", manifest.IncludedCount)
	}
}

// S2: guarded loop -- C routes back to B on changes_requested, then forward on approved.
func TestScenarioGuardedLoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := []byte(`
id: s2-tree
nodes:
  - key: a
  - key: b
  - key: c
  - key: end
    type: tool
edges:
  - from: a
    to: b
  - from: b
    to: c
  - from: c
    to: b
    priority: 10
    guard: "decision.type == 'changes_requested'"
  - from: c
    to: end
    priority: 100
`)
	def, err := workflow.ParseTreeDefinition(data)
	if err != nil {
		t.Fatalf("ParseTreeDefinition: %v", err)
	}
	runID, err := InstantiateRun(ctx, s, def)
	if err != nil {
		t.Fatalf("InstantiateRun: %v", err)
	}

	guard := mustGuardEvaluator(t)
	ex := &Executor{Store: s, Match: guard.Match, Providers: provider.NewRegistry()}
	scripted := &sequencedFake{
		results: []sequencedResult{
			{decision: "approved"},          // a
			{decision: "approved"},          // b attempt 1
			{decision: "changes_requested"}, // c attempt 1
			{decision: "approved"},          // b attempt 2
			{decision: "approved"},          // c attempt 2
		},
	}
	ex.Providers.Register("", scripted)
	ctrl := NewController(ex)

	result, err := ctrl.ExecuteRun(ctx, runID, 20)
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
	if result.RunStatus != workflow.RunCompleted {
		t.Fatalf("expected RunCompleted, got %s (steps=%d)", result.RunStatus, result.StepsTaken)
	}

	nodes, err := s.ListRunNodes(ctx, runID)
	if err != nil {
		t.Fatalf("ListRunNodes: %v", err)
	}
	var nodeB, nodeC *workflow.RunNode
	for _, n := range nodes {
		switch n.NodeKey {
		case "b":
			nodeB = n
		case "c":
			nodeC = n
		}
	}
	if nodeB.Attempt != 2 {
		t.Errorf("expected b.attempt=2, got %d", nodeB.Attempt)
	}

	var decisions []*workflow.RoutingDecision
	err = s.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		decisions, err = tx.ListRoutingDecisionsByNode(ctx, nodeC.ID)
		return err
	})
	if err != nil {
		t.Fatalf("ListRoutingDecisionsByNode: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("expected 2 routing decisions for c, got %d", len(decisions))
	}
	if decisions[0].DecisionType != workflow.DecisionChangesRequested || decisions[1].DecisionType != workflow.DecisionApproved {
		t.Errorf("expected [changes_requested, approved] in order, got [%s, %s]", decisions[0].DecisionType, decisions[1].DecisionType)
	}
}

// S3: retry on provider timeout, followed by success; a retry-failure-summary artifact is produced.
func TestScenarioRetryOnProviderTimeout(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := []byte(`
id: s3-tree
nodes:
  - key: a
    maxRetries: 2
`)
	def, err := workflow.ParseTreeDefinition(data)
	if err != nil {
		t.Fatalf("ParseTreeDefinition: %v", err)
	}
	runID, err := InstantiateRun(ctx, s, def)
	if err != nil {
		t.Fatalf("InstantiateRun: %v", err)
	}

	scripted := &sequencedFake{
		results: []sequencedResult{
			{err: provider.NewTimeoutError(1000)},
			{decision: "approved"},
		},
	}
	ex := &Executor{Store: s, Match: noGuardMatch, Providers: provider.NewRegistry()}
	ex.Providers.Register("", scripted)
	ctrl := NewController(ex)

	result, err := ctrl.ExecuteRun(ctx, runID, 10)
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
	if result.RunStatus != workflow.RunCompleted {
		t.Fatalf("expected RunCompleted, got %s", result.RunStatus)
	}

	nodes, err := s.ListRunNodes(ctx, runID)
	if err != nil {
		t.Fatalf("ListRunNodes: %v", err)
	}
	nodeA := nodes[0]
	if nodeA.Attempt != 2 {
		t.Fatalf("expected a.attempt=2, got %d", nodeA.Attempt)
	}
	if nodeA.Status != workflow.NodeCompleted {
		t.Fatalf("expected a completed, got %s", nodeA.Status)
	}

	var artifacts []*workflow.PhaseArtifact
	err = s.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		artifacts, err = tx.ListArtifactsByNode(ctx, nodeA.ID)
		return err
	})
	if err != nil {
		t.Fatalf("ListArtifactsByNode: %v", err)
	}
	var foundSummary bool
	for _, a := range artifacts {
		if a.ArtifactType != workflow.ArtifactNote {
			continue
		}
		if kind, _ := a.Metadata["kind"].(string); kind != retryFailureSummaryKind {
			continue
		}
		sa, _ := a.Metadata["sourceAttempt"].(float64)
		if int(sa) == 1 {
			foundSummary = true
		}
	}
	if !foundSummary {
		t.Error("expected a retry-failure-summary note artifact for sourceAttempt=1")
	}
}

// S4: fan-out join -- 3 children complete in arbitrary order, then the join runs.
func TestScenarioFanOutJoin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := []byte(`
id: s4-tree
nodes:
  - key: spawner
    role: spawner
    maxChildren: 4
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

	spawnReport := `{"subtasks":[{"nodeKey":"x","prompt":"do x"},{"nodeKey":"y","prompt":"do y"},{"nodeKey":"z","prompt":"do z"}]}`
	scripted := &sequencedFake{
		results: []sequencedResult{
			{content: spawnReport},
			{decision: "approved"}, // x
			{decision: "approved"}, // y
			{decision: "approved"}, // z
			{decision: "approved"}, // j
		},
	}
	ex := &Executor{Store: s, Match: noGuardMatch, Providers: provider.NewRegistry()}
	ex.Providers.Register("", scripted)
	ctrl := NewController(ex)

	result, err := ctrl.ExecuteRun(ctx, runID, 20)
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
	if result.RunStatus != workflow.RunCompleted {
		t.Fatalf("expected RunCompleted, got %s", result.RunStatus)
	}

	nodes, err := s.ListRunNodes(ctx, runID)
	if err != nil {
		t.Fatalf("ListRunNodes: %v", err)
	}
	var childCount int
	for _, n := range nodes {
		if n.SpawnerNodeID != nil {
			childCount++
			if n.Status != workflow.NodeCompleted {
				t.Errorf("expected child %s completed, got %s", n.NodeKey, n.Status)
			}
		}
	}
	if childCount != 3 {
		t.Fatalf("expected 3 children, got %d", childCount)
	}
}

// S5: fan-out child retry -- one child fails retryably and reruns before the join claims.
func TestScenarioFanOutChildRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := []byte(`
id: s5-tree
nodes:
  - key: spawner
    role: spawner
    maxChildren: 4
    maxRetries: 1
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

	spawnReport := `{"subtasks":[{"nodeKey":"x","prompt":"do x"},{"nodeKey":"y","prompt":"do y","maxRetries":1},{"nodeKey":"z","prompt":"do z"}]}`
	scripted := &sequencedFake{
		results: []sequencedResult{
			{content: spawnReport},
			{decision: "approved"},                  // x
			{err: provider.NewTimeoutError(1000)},   // y attempt 1 fails retryably
			{decision: "approved"},                  // y attempt 2
			{decision: "approved"},                  // z
			{decision: "approved"},                  // j
		},
	}
	ex := &Executor{Store: s, Match: noGuardMatch, Providers: provider.NewRegistry()}
	ex.Providers.Register("", scripted)
	ctrl := NewController(ex)

	result, err := ctrl.ExecuteRun(ctx, runID, 20)
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
	if result.RunStatus != workflow.RunCompleted {
		t.Fatalf("expected RunCompleted, got %s", result.RunStatus)
	}

	nodes, err := s.ListRunNodes(ctx, runID)
	if err != nil {
		t.Fatalf("ListRunNodes: %v", err)
	}
	for _, n := range nodes {
		if n.NodeKey == "y" {
			if n.Attempt != 2 {
				t.Errorf("expected y.attempt=2, got %d", n.Attempt)
			}
			if n.Status != workflow.NodeCompleted {
				t.Errorf("expected y completed, got %s", n.Status)
			}
		}
	}
}

// S6: no-route terminal -- a blocked decision with no matching guarded edge fails the run.
func TestScenarioNoRouteTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := []byte(`
id: s6-tree
nodes:
  - key: a
  - key: b
  - key: bprime
edges:
  - from: a
    to: b
    guard: "decision.type == 'approved'"
  - from: a
    to: bprime
    guard: "decision.type == 'changes_requested'"
`)
	def, err := workflow.ParseTreeDefinition(data)
	if err != nil {
		t.Fatalf("ParseTreeDefinition: %v", err)
	}
	runID, err := InstantiateRun(ctx, s, def)
	if err != nil {
		t.Fatalf("InstantiateRun: %v", err)
	}

	guard := mustGuardEvaluator(t)
	fake := &provider.Fake{Events: provider.NewFakeResult("blocked output", "blocked")}
	ex := &Executor{Store: s, Match: guard.Match, Providers: provider.NewRegistry()}
	ex.Providers.Register("", fake)
	ctrl := NewController(ex)

	result, err := ctrl.ExecuteRun(ctx, runID, 10)
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
	if result.RunStatus != workflow.RunFailed {
		t.Fatalf("expected RunFailed on no-route terminal, got %s", result.RunStatus)
	}

	nodes, err := s.ListRunNodes(ctx, runID)
	if err != nil {
		t.Fatalf("ListRunNodes: %v", err)
	}
	for _, n := range nodes {
		if n.NodeKey == "b" || n.NodeKey == "bprime" {
			if n.Status != workflow.NodePending {
				t.Errorf("expected %s to never be claimed, got %s", n.NodeKey, n.Status)
			}
		}
	}

	var nodeA *workflow.RunNode
	for _, n := range nodes {
		if n.NodeKey == "a" {
			nodeA = n
		}
	}
	var decisions []*workflow.RoutingDecision
	err = s.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		decisions, err = tx.ListRoutingDecisionsByNode(ctx, nodeA.ID)
		return err
	})
	if err != nil {
		t.Fatalf("ListRoutingDecisionsByNode: %v", err)
	}
	var hasNoRoute bool
	for _, d := range decisions {
		if d.DecisionType == workflow.DecisionNoRoute {
			hasNoRoute = true
		}
	}
	if !hasNoRoute {
		t.Error("expected a no_route routing decision for a")
	}
}
