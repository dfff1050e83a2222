// ABOUTME: Configuration constants enumerated for the workflow executor.
// ABOUTME: Values are generous fixed defaults; only DefaultMaxSteps has a CLI override (-max-steps).
package workflow

// ContextPolicyVersion is bumped whenever the shape of a context envelope or
// manifest changes, so persisted manifests can be matched against the policy
// that produced them.
const ContextPolicyVersion = 1

// Context-assembly budgets (§4.5).
const (
	MaxUpstreamArtifacts         = 8
	MaxCharsPerArtifact          = 8000
	MaxContextCharsTotal         = 32000
	MinRemainingContextChars     = 500
	MaxRetrySummaryContextChars  = 2000
	MaxFailureRouteContextChars  = 3000
	MaxErrorSummaryChars         = 2000
)

// DefaultMaxSteps bounds a single ExecuteRun call absent an explicit caller
// override.
const DefaultMaxSteps = 10000

// MaxControlPreconditionRetries bounds the retry loop a control action runs
// before surfacing ErrConcurrentConflict (§4.9).
const MaxControlPreconditionRetries = 5

// truncationSentinel separates the head and tail halves of a head+tail
// truncated artifact (§4.5).
const truncationSentinel = "\n...[truncated]...\n"
