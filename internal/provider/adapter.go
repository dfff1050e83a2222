// ABOUTME: Adapter core (C6): wraps an SDK-native stream with event normalisation, usage accounting,
// ABOUTME: tool_use dedup, MISSING_RESULT detection, timeout arming, and cancellation propagation.
package provider

import (
	"context"
)

// RawEvent is an SDK-native event before normalisation. Type is whatever
// string the SDK used; normalizeEvent maps it onto the canonical EventType
// set or rejects it with INVALID_EVENT.
type RawEvent struct {
	Type      string
	Content   string
	Timestamp int64
	Metadata  map[string]any
}

// SDKStream opens the provider's native event stream. Implementations wrap
// a concrete SDK client (anthropic-sdk-go, openai-go, ...); the adapter core
// never sees SDK types directly.
type SDKStream func(ctx context.Context, prompt string, opts RunOptions) (<-chan RawEvent, error)

// Adapter implements Provider by normalising one SDKStream's output to the
// canonical event shape and enforcing the C6 contract.
type Adapter struct {
	Name   string
	Stream SDKStream
}

// Run implements Provider.
func (a *Adapter) Run(ctx context.Context, prompt string, opts RunOptions) (<-chan Event, <-chan error) {
	events := make(chan Event, 16)
	errs := make(chan error, 1)

	runCtx := ctx
	cancel := func() {}
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}

	go func() {
		defer close(events)
		defer close(errs)
		defer cancel() // cleared on every exit path: success, failure, cancellation

		raw, err := a.Stream(runCtx, prompt, opts)
		if err != nil {
			errs <- err
			return
		}

		seenToolUse := make(map[string]bool)
		var usage Usage
		gotResult := false

		for i := 0; ; i++ {
			select {
			case <-runCtx.Done():
				if ctxTimedOut(ctx, runCtx) {
					errs <- NewTimeoutError(opts.Timeout.Milliseconds())
				}
				return
			case rawEvent, ok := <-raw:
				if !ok {
					if !gotResult {
						errs <- NewMissingResultError()
					}
					return
				}

				ev, err := normalizeEvent(rawEvent, i)
				if err != nil {
					errs <- err
					return
				}

				if ev.Type == EventToolUse {
					if ev.ToolUseID != "" {
						if seenToolUse[ev.ToolUseID] {
							continue
						}
						seenToolUse[ev.ToolUseID] = true
					}
				}

				if ev.Type == EventUsage || ev.Type == EventResult {
					applyUsage(&usage, ev.Metadata)
					if ev.Metadata == nil {
						ev.Metadata = map[string]any{}
					}
					ev.Metadata["tokensUsed"] = usage.total()
				}

				if ev.Type == EventResult {
					gotResult = true
				}

				select {
				case events <- ev:
				case <-runCtx.Done():
					if ctxTimedOut(ctx, runCtx) {
						errs <- NewTimeoutError(opts.Timeout.Milliseconds())
					}
					return
				}
			}
		}
	}()

	return events, errs
}

// ctxTimedOut distinguishes the adapter's own timeout deadline from upstream
// cancellation: only the former should be reported as a TIMEOUT classification.
func ctxTimedOut(parent, runCtx context.Context) bool {
	return runCtx.Err() == context.DeadlineExceeded && parent.Err() == nil
}

func normalizeEvent(raw RawEvent, index int) (Event, error) {
	var t EventType
	switch raw.Type {
	case "system":
		t = EventSystem
	case "assistant":
		t = EventAssistant
	case "tool_use":
		t = EventToolUse
	case "tool_result":
		t = EventToolResult
	case "usage":
		t = EventUsage
	case "result":
		t = EventResult
	default:
		return Event{}, NewInvalidEventError(index, "type")
	}

	ev := Event{
		Type:      t,
		Content:   raw.Content,
		Timestamp: raw.Timestamp,
		Metadata:  raw.Metadata,
	}
	if t == EventToolUse && raw.Metadata != nil {
		if id, ok := raw.Metadata["toolUseId"].(string); ok {
			ev.ToolUseID = id
		}
	}
	return ev, nil
}

// applyUsage implements the §4.6 usage-accounting rule: keep the max of the
// latest absolute snapshot and the running sum of incremental deltas; when
// an event carries both, the absolute value wins for that event.
func applyUsage(u *Usage, meta map[string]any) {
	if meta == nil {
		return
	}

	absoluteTotal, hasAbsolute := readAbsoluteTokens(meta)
	if hasAbsolute {
		u.TotalTokens = absoluteTotal
		return
	}

	if delta, ok := meta["tokens"].(float64); ok {
		u.Incremental += int(delta)
		if u.Incremental > u.TotalTokens {
			u.TotalTokens = u.Incremental
		}
	}
}

func readAbsoluteTokens(meta map[string]any) (int, bool) {
	usageMap, _ := meta["usage"].(map[string]any)
	if usageMap == nil {
		usageMap = meta
	}
	if total, ok := usageMap["total_tokens"].(float64); ok {
		return int(total), true
	}
	in, hasIn := usageMap["input_tokens"].(float64)
	out, hasOut := usageMap["output_tokens"].(float64)
	if hasIn || hasOut {
		return int(in) + int(out), true
	}
	return 0, false
}

func (u Usage) total() int {
	if u.TotalTokens > u.Incremental {
		return u.TotalTokens
	}
	return u.Incremental
}

// RoutingDecisionFromResult implements the §4.6 canonical-only extraction
// rule: read `routingDecision` only, never the legacy `routing_decision`
// key. Any other value, including a legacy key, is treated as absent.
func RoutingDecisionFromResult(metadata map[string]any) (string, bool) {
	if metadata == nil {
		return "", false
	}
	raw, ok := metadata["routingDecision"].(string)
	if !ok {
		return "", false
	}
	switch raw {
	case "approved", "changes_requested", "blocked", "retry":
		return raw, true
	default:
		return "", false
	}
}
