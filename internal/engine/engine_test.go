// ABOUTME: Shared test helpers for the engine package: a temp-file store plus a minimal tree builder.
package engine

import (
	"testing"

	"github.com/hansjm10/alphred/internal/provider"
	"github.com/hansjm10/alphred/internal/store"
	"github.com/hansjm10/alphred/internal/workflow"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// noGuardMatch is a GuardMatcher for trees with no guarded edges: it is
// never consulted for an unguarded (Auto) edge, so any implementation works.
func noGuardMatch(_ *workflow.RunEdge, _ *workflow.RoutingDecision) (bool, error) {
	return false, nil
}

// newExecutor builds an Executor whose registry resolves both the empty
// provider name (what an unauthored TreeNodeDef.Provider defaults to) and
// "fake" to the same scripted provider.
func newExecutor(s *store.Store, fake *provider.Fake) *Executor {
	registry := provider.NewRegistry()
	registry.Register("", fake)
	registry.Register("fake", fake)
	return &Executor{Store: s, Match: noGuardMatch, Providers: registry}
}
