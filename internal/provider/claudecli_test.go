// ABOUTME: Tests for claude CLI JSONL line parsing, arg building, and routing-decision extraction.
package provider

import (
	"reflect"
	"testing"
)

func TestParseClaudeLineSystemEvent(t *testing.T) {
	raw, ok := parseClaudeLine([]byte(`{"type":"system","session_id":"abc"}`))
	if !ok {
		t.Fatal("expected system line to parse")
	}
	if raw.Type != "system" || raw.Metadata["sessionId"] != "abc" {
		t.Errorf("unexpected raw event: %+v", raw)
	}
}

func TestParseClaudeLineAssistantText(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}]}}`
	raw, ok := parseClaudeLine([]byte(line))
	if !ok {
		t.Fatal("expected assistant line to parse")
	}
	if raw.Type != "assistant" || raw.Content != "hello" {
		t.Errorf("unexpected raw event: %+v", raw)
	}
}

func TestParseClaudeLineAssistantToolUse(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"bash"}]}}`
	raw, ok := parseClaudeLine([]byte(line))
	if !ok {
		t.Fatal("expected tool_use line to parse")
	}
	if raw.Type != "tool_use" || raw.Metadata["toolUseId"] != "t1" || raw.Metadata["name"] != "bash" {
		t.Errorf("unexpected raw event: %+v", raw)
	}
}

func TestParseClaudeLineAssistantWithNoTextOrToolUseIsSkipped(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[]}}`
	_, ok := parseClaudeLine([]byte(line))
	if ok {
		t.Error("expected an empty assistant message to be skipped")
	}
}

func TestParseClaudeLineResultWithUsageAndRoutingDecision(t *testing.T) {
	line := `{"type":"result","result":"done\nROUTING_DECISION: approved","usage":{"input_tokens":10,"output_tokens":5}}`
	raw, ok := parseClaudeLine([]byte(line))
	if !ok {
		t.Fatal("expected result line to parse")
	}
	if raw.Type != "result" {
		t.Errorf("expected type result, got %s", raw.Type)
	}
	usage, _ := raw.Metadata["usage"].(map[string]any)
	if usage["input_tokens"] != float64(10) || usage["output_tokens"] != float64(5) {
		t.Errorf("unexpected usage metadata: %+v", usage)
	}
	if raw.Metadata["routingDecision"] != "approved" {
		t.Errorf("expected routingDecision=approved, got %v", raw.Metadata["routingDecision"])
	}
}

func TestParseClaudeLineUnparseableJSONIsSkipped(t *testing.T) {
	_, ok := parseClaudeLine([]byte(`not json`))
	if ok {
		t.Error("expected unparseable JSON to be skipped")
	}
}

func TestParseClaudeLineUnknownTypeIsSkipped(t *testing.T) {
	_, ok := parseClaudeLine([]byte(`{"type":"ping"}`))
	if ok {
		t.Error("expected an unrecognised event type to be skipped")
	}
}

func TestExtractRoutingDecisionRequiresExactMarkerLine(t *testing.T) {
	v, ok := extractRoutingDecision("some text\nROUTING_DECISION: blocked\n")
	if !ok || v != "blocked" {
		t.Errorf("expected blocked/true, got %q/%v", v, ok)
	}
	if _, ok := extractRoutingDecision("ROUTING_DECISION: not_a_value"); ok {
		t.Error("expected an unrecognised decision word to not match")
	}
	if _, ok := extractRoutingDecision("no marker here"); ok {
		t.Error("expected no match without the marker")
	}
}

func TestWithUpstreamContextPrefixesJoinedEnvelopes(t *testing.T) {
	got := withUpstreamContext("do it", []string{"env1", "env2"})
	want := "env1\n\nenv2\n\ndo it"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWithUpstreamContextNoContextReturnsPromptUnchanged(t *testing.T) {
	got := withUpstreamContext("do it", nil)
	if got != "do it" {
		t.Errorf("expected unchanged prompt, got %q", got)
	}
}

func TestBuildArgsIncludesModelAndToolsAndSystemPrompt(t *testing.T) {
	c := ClaudeCLI{DefaultModel: "claude-x", AllowedTools: []string{"bash", "read"}}
	args := c.buildArgs("prompt text", RunOptions{SystemPrompt: "be terse"})

	want := []string{
		"--print", "--verbose", "--output-format", "stream-json",
		"--no-session-persistence", "--dangerously-skip-permissions",
		"--model", "claude-x",
		"--allowedTools", "bash,read",
		"--append-system-prompt", "be terse",
		"prompt text",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("got %v, want %v", args, want)
	}
}

func TestBuildArgsOmitsOptionalFlagsWhenUnset(t *testing.T) {
	c := ClaudeCLI{}
	args := c.buildArgs("p", RunOptions{})
	for _, flag := range []string{"--model", "--allowedTools", "--append-system-prompt"} {
		for _, a := range args {
			if a == flag {
				t.Errorf("expected %s to be omitted, got args %v", flag, args)
			}
		}
	}
}
