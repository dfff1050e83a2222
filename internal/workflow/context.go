// ABOUTME: Context assembler (C5): predecessor/report selection, budgeted inclusion, truncation, manifest.
// ABOUTME: Pure in-memory pass over already-loaded rows -- no store access here, per the single-pass budgeting design.
package workflow

import (
	"crypto/sha256"
	"encoding/hex"
)

// EnvelopeKind tags a context envelope with the role it plays in the
// assembled prompt.
type EnvelopeKind string

const (
	EnvelopeFailureRoute   EnvelopeKind = "failure_route"
	EnvelopeUpstreamReport EnvelopeKind = "upstream_report"
	EnvelopeRetrySummary   EnvelopeKind = "retry_summary"
)

// ContextEnvelope is one opaque, tagged text blob handed to the provider
// prompt template.
type ContextEnvelope struct {
	Kind              EnvelopeKind
	SourceRunNodeID   string
	ArtifactID        string
	Content           string
	ContentSha256     string
	AppliedTruncation bool
	OriginalChars     int
	IncludedChars     int
}

// ContextManifest records what was included, dropped, or truncated, for
// persistence alongside the run-node's execution metadata.
type ContextManifest struct {
	PolicyVersion            int      `json:"policyVersion"`
	IncludedArtifactIDs      []string `json:"includedArtifactIds"`
	DroppedArtifactIDs       []string `json:"droppedArtifactIds"`
	IncludedCount            int      `json:"includedCount"`
	IncludedCharsTotal       int      `json:"includedCharsTotal"`
	MissingUpstreamArtifacts bool     `json:"missingUpstreamArtifacts"`
	NoEligibleArtifactTypes  bool     `json:"noEligibleArtifactTypes"`
	BudgetOverflow           bool     `json:"budgetOverflow"`
	RetrySummaryIncluded     bool     `json:"retrySummaryIncluded"`
	FailureRouteIncluded     bool     `json:"failureRouteIncluded"`
}

// AssembledContext is the full result of one context-assembly pass.
type AssembledContext struct {
	Envelopes []ContextEnvelope
	Manifest  ContextManifest
}

// PredecessorArtifact pairs a direct predecessor with its single latest
// report artifact, already resolved by the caller (§4.5's predecessor and
// artifact selection). HasAnyArtifact distinguishes "no artifacts at all"
// (missing_upstream_artifacts) from "artifacts exist but none is a report"
// (no_eligible_artifact_types).
type PredecessorArtifact struct {
	SourceRunNodeID string
	HasAnyArtifact  bool
	Artifact        *PhaseArtifact
}

// FailureRouteContext carries the diagnostic envelope content for a target
// about to execute because a routeOn='failure' edge selected it.
type FailureRouteContext struct {
	SourceNode       *RunNode
	RetriesExhausted bool
	RetriesUsed      int
	FailureReason    string
	FailureArtifact  *PhaseArtifact
	RetrySummary     *PhaseArtifact
}

// ContextInputs is everything AssembleContext needs, pre-resolved by the
// caller from already-loaded store rows.
type ContextInputs struct {
	Target       *RunNode
	Predecessors []PredecessorArtifact
	RetrySummary *PhaseArtifact
	FailureRoute *FailureRouteContext
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// truncateHeadTail implements the §4.5 head+tail truncation rule.
func truncateHeadTail(content string, maxChars int) (result string, applied bool, originalChars int) {
	originalChars = len(content)
	if originalChars <= maxChars {
		return content, false, originalChars
	}
	sentinelLen := len(truncationSentinel)
	if maxChars <= sentinelLen {
		return content[:maxChars], true, originalChars
	}
	budget := maxChars - sentinelLen
	headLen := budget / 2
	tailLen := budget - headLen
	return content[:headLen] + truncationSentinel + content[originalChars-tailLen:], true, originalChars
}

// AssembleContext walks predecessors once, applying the fixed budgets from
// §4.5, and returns the ordered envelope list plus manifest.
func AssembleContext(in ContextInputs) AssembledContext {
	m := ContextManifest{PolicyVersion: ContextPolicyVersion}
	var envelopes []ContextEnvelope
	remaining := MaxContextCharsTotal

	if in.FailureRoute != nil {
		env, ok := buildFailureRouteEnvelope(in.FailureRoute, &remaining, &m)
		if ok {
			envelopes = append(envelopes, env)
			m.FailureRouteIncluded = true
		}
	}

	included := 0
	for _, pred := range in.Predecessors {
		if included >= MaxUpstreamArtifacts {
			break
		}
		if pred.Artifact == nil {
			if pred.HasAnyArtifact {
				m.NoEligibleArtifactTypes = true
			} else {
				m.MissingUpstreamArtifacts = true
			}
			continue
		}
		if remaining < MinRemainingContextChars {
			m.BudgetOverflow = true
			m.DroppedArtifactIDs = append(m.DroppedArtifactIDs, pred.Artifact.ID)
			continue
		}

		capForArtifact := MaxCharsPerArtifact
		if capForArtifact > remaining {
			capForArtifact = remaining
		}
		content, applied, originalChars := truncateHeadTail(pred.Artifact.Content, capForArtifact)
		envelopes = append(envelopes, ContextEnvelope{
			Kind:              EnvelopeUpstreamReport,
			SourceRunNodeID:   pred.SourceRunNodeID,
			ArtifactID:        pred.Artifact.ID,
			Content:           content,
			ContentSha256:     sha256Hex(pred.Artifact.Content),
			AppliedTruncation: applied,
			OriginalChars:     originalChars,
			IncludedChars:     len(content),
		})
		m.IncludedArtifactIDs = append(m.IncludedArtifactIDs, pred.Artifact.ID)
		m.IncludedCount++
		m.IncludedCharsTotal += len(content)
		remaining -= len(content)
		included++
	}

	if in.Target.Attempt > 1 && in.RetrySummary != nil {
		cap := MaxErrorSummaryChars
		if MaxRetrySummaryContextChars < cap {
			cap = MaxRetrySummaryContextChars
		}
		if cap > remaining {
			cap = remaining
		}
		if cap > 0 {
			content, applied, originalChars := truncateHeadTail(in.RetrySummary.Content, cap)
			envelopes = append(envelopes, ContextEnvelope{
				Kind:              EnvelopeRetrySummary,
				SourceRunNodeID:   in.Target.ID,
				ArtifactID:        in.RetrySummary.ID,
				Content:           content,
				ContentSha256:     sha256Hex(in.RetrySummary.Content),
				AppliedTruncation: applied,
				OriginalChars:     originalChars,
				IncludedChars:     len(content),
			})
			m.IncludedArtifactIDs = append(m.IncludedArtifactIDs, in.RetrySummary.ID)
			m.IncludedCharsTotal += len(content)
			m.RetrySummaryIncluded = true
			remaining -= len(content)
		} else {
			m.BudgetOverflow = true
			m.DroppedArtifactIDs = append(m.DroppedArtifactIDs, in.RetrySummary.ID)
		}
	}

	return AssembledContext{Envelopes: envelopes, Manifest: m}
}

func buildFailureRouteEnvelope(fr *FailureRouteContext, remaining *int, m *ContextManifest) (ContextEnvelope, bool) {
	if *remaining < MinRemainingContextChars {
		m.BudgetOverflow = true
		return ContextEnvelope{}, false
	}

	var body string
	body += "failure_reason: " + fr.FailureReason + "\n"
	if fr.FailureArtifact != nil {
		body += "failure_detail: " + fr.FailureArtifact.Content + "\n"
	}
	if fr.RetrySummary != nil {
		body += "retry_summary: " + fr.RetrySummary.Content + "\n"
	}

	cap := MaxFailureRouteContextChars
	if cap > *remaining {
		cap = *remaining
	}
	content, applied, originalChars := truncateHeadTail(body, cap)

	artifactID := ""
	if fr.FailureArtifact != nil {
		artifactID = fr.FailureArtifact.ID
	}
	env := ContextEnvelope{
		Kind:              EnvelopeFailureRoute,
		SourceRunNodeID:   fr.SourceNode.ID,
		ArtifactID:        artifactID,
		Content:           content,
		ContentSha256:     sha256Hex(body),
		AppliedTruncation: applied,
		OriginalChars:     originalChars,
		IncludedChars:     len(content),
	}
	m.IncludedCharsTotal += len(content)
	*remaining -= len(content)
	return env, true
}
