// ABOUTME: CEL-backed guard-expression evaluation for RunEdge.guardExpression.
// ABOUTME: Grounded on the agentic-orchestrator condition evaluator's compile-and-cache pattern.
package workflow

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// GuardEvaluator compiles and caches CEL programs for edge guard
// expressions, exposing a GuardMatcher for BuildRoutingSelection.
type GuardEvaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
	env   *cel.Env
}

// NewGuardEvaluator constructs an evaluator with a CEL environment exposing
// `decision` (the routing decision signal) and `ctx` (free-form metadata)
// variables to guard expressions.
func NewGuardEvaluator() (*GuardEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("decision", cel.DynType),
		cel.Variable("ctx", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	return &GuardEvaluator{cache: make(map[string]cel.Program), env: env}, nil
}

// Match implements GuardMatcher. An edge with no guard expression never
// matches here -- unconditional edges are handled by the auto=1 fast path in
// BuildRoutingSelection before Match is ever called.
func (g *GuardEvaluator) Match(edge *RunEdge, decision *RoutingDecision) (bool, error) {
	if edge.GuardExpression == "" {
		return false, nil
	}
	prg, err := g.program(edge.GuardExpression)
	if err != nil {
		return false, err
	}

	vars := map[string]any{
		"decision": map[string]any{
			"type":   string(decision.DecisionType),
			"attempt": decision.Attempt,
		},
		"ctx": decision.RawOutput,
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("evaluate guard %q: %w", edge.GuardExpression, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard %q did not evaluate to a boolean, got %T", edge.GuardExpression, out.Value())
	}
	return result, nil
}

func (g *GuardEvaluator) program(expr string) (cel.Program, error) {
	g.mu.RLock()
	prg, ok := g.cache[expr]
	g.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := g.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile guard %q: %w", expr, issues.Err())
	}
	prg, err := g.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build guard program %q: %w", expr, err)
	}

	g.mu.Lock()
	g.cache[expr] = prg
	g.mu.Unlock()
	return prg, nil
}
