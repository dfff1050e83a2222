// ABOUTME: In-memory Provider test double: replays a scripted event sequence or a scripted failure.
// ABOUTME: Grounded on the teacher's testAdapter pattern (llm/client_test.go's scripted Stream).
package provider

import "context"

// Fake is a Provider that replays a fixed script of events, optionally
// followed by an error instead of a clean stream close. It never reads
// opts; tests assert on what was passed to Run via RecordedPrompt/RecordedOpts.
type Fake struct {
	Events []Event
	Err    error

	RecordedPrompt string
	RecordedOpts   RunOptions
}

// Run implements Provider.
func (f *Fake) Run(ctx context.Context, prompt string, opts RunOptions) (<-chan Event, <-chan error) {
	f.RecordedPrompt = prompt
	f.RecordedOpts = opts

	events := make(chan Event, len(f.Events))
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)
		for _, ev := range f.Events {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if f.Err != nil {
			errs <- f.Err
		}
	}()

	return events, errs
}

// NewFakeResult builds a minimal scripted success: one assistant event
// followed by a single terminal result event carrying content and an
// optional routing decision.
func NewFakeResult(content, routingDecision string) []Event {
	meta := map[string]any{}
	if routingDecision != "" {
		meta["routingDecision"] = routingDecision
	}
	return []Event{
		{Type: EventAssistant, Content: content},
		{Type: EventResult, Content: content, Metadata: meta},
	}
}
