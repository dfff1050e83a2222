// ABOUTME: Provider adapter contract (C6, §6): the polymorphic run(prompt, options) -> event stream interface.
// ABOUTME: Grounded on llm.ProviderAdapter's Stream(ctx, req) (<-chan StreamEvent, error) shape.
package provider

import (
	"context"
	"time"
)

// EventType discriminates the canonical provider event stream (§4.6).
type EventType string

const (
	EventSystem    EventType = "system"
	EventAssistant EventType = "assistant"
	EventToolUse   EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventUsage     EventType = "usage"
	EventResult    EventType = "result"
)

// Event is one normalised event in a provider's canonical stream.
type Event struct {
	Type      EventType
	Content   string
	Timestamp int64
	Metadata  map[string]any
	// ToolUseID identifies a tool_use event for deduplication across
	// assistant-content-block and out-of-band emission paths (§4.6.3).
	ToolUseID string
}

// Usage is a single snapshot of token accounting read from a usage or result
// event's metadata. Absolute fields are zero when unset; Incremental is the
// per-event delta when the provider only reports deltas.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Incremental  int
}

// RunOptions configures one provider invocation (§6).
type RunOptions struct {
	WorkingDirectory string
	SystemPrompt     string
	Timeout          time.Duration
	Context          []string
}

// Provider is a polymorphic value implementing a single streaming method.
// Variants (codex, claude, ...) share no inheritance -- each adapter
// normalises its own SDK stream to the canonical Event shape (§9).
type Provider interface {
	Run(ctx context.Context, prompt string, opts RunOptions) (<-chan Event, <-chan error)
}

// Registry resolves a provider name (as configured on a run-node) to a
// Provider implementation. Grounded on the teacher's HandlerRegistry
// name->implementation map (attractor/engine.go).
type Registry struct {
	providers map[string]Provider
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under name.
func (r *Registry) Register(name string, p Provider) {
	r.providers[name] = p
}

// Resolve looks up a provider by name, returning ErrUnknownProvider if
// absent.
func (r *Registry) Resolve(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, &ErrUnknownProvider{Name: name}
	}
	return p, nil
}
