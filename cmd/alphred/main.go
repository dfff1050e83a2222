// ABOUTME: CLI entrypoint for the alphred workflow orchestrator: instantiate, run, and control runs.
// ABOUTME: Wires the store, provider registry, executor, and controller together; no server or TUI mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hansjm10/alphred/internal/engine"
	"github.com/hansjm10/alphred/internal/provider"
	"github.com/hansjm10/alphred/internal/store"
	"github.com/hansjm10/alphred/internal/workflow"
)

var version = "dev"

// config holds CLI configuration parsed from flags and positional arguments.
type config struct {
	dataDir       string
	maxSteps      int
	providerTimeout time.Duration
	verbose       bool
	showVersion   bool
	command       string
	arg           string
}

func main() {
	cfg := parseFlags()
	if cfg.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	loadDotEnvAuto()

	if cfg.showVersion {
		fmt.Printf("alphred %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

func parseFlags() config {
	var cfg config

	fs := flag.NewFlagSet("alphred", flag.ContinueOnError)
	fs.StringVar(&cfg.dataDir, "data-dir", "", "Data directory for the SQLite store (default: $XDG_DATA_HOME/alphred)")
	fs.IntVar(&cfg.maxSteps, "max-steps", workflow.DefaultMaxSteps, "Maximum steps ExecuteRun takes before giving up")
	fs.DurationVar(&cfg.providerTimeout, "provider-timeout", 10*time.Minute, "Per-node provider call timeout")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Print provider events to stderr as they stream")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")
	fs.Usage = func() {
		printHelp(os.Stderr, version)
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if fs.NArg() > 0 {
		cfg.command = fs.Arg(0)
	}
	if fs.NArg() > 1 {
		cfg.arg = fs.Arg(1)
	}
	return cfg
}

// run dispatches to the subcommand named by cfg.command. Returns a process exit code.
func run(cfg config) int {
	switch cfg.command {
	case "run":
		return cmdRun(cfg)
	case "resume":
		return cmdResume(cfg)
	case "status":
		return cmdStatus(cfg)
	case "cancel":
		return cmdControl(cfg, func(c *engine.Controller, ctx context.Context) (workflow.RunStatus, error) {
			return c.Cancel(ctx, cfg.arg)
		})
	case "pause":
		return cmdControl(cfg, func(c *engine.Controller, ctx context.Context) (workflow.RunStatus, error) {
			return c.Pause(ctx, cfg.arg)
		})
	case "unpause":
		return cmdControl(cfg, func(c *engine.Controller, ctx context.Context) (workflow.RunStatus, error) {
			return c.Resume(ctx, cfg.arg)
		})
	case "retry":
		return cmdControl(cfg, func(c *engine.Controller, ctx context.Context) (workflow.RunStatus, error) {
			return c.Retry(ctx, cfg.arg)
		})
	default:
		printHelp(os.Stderr, version)
		return 0
	}
}

// cmdRun instantiates a new run from a tree-definition file and executes it
// to completion (or until max-steps / a blocking state is reached).
func cmdRun(cfg config) int {
	if cfg.arg == "" {
		fmt.Fprintln(os.Stderr, "error: run requires a tree-definition file argument")
		return 2
	}
	data, err := os.ReadFile(cfg.arg)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.arg).Msg("failed to read tree definition")
		return 1
	}
	def, err := workflow.ParseTreeDefinition(data)
	if err != nil {
		log.Error().Err(err).Msg("failed to parse tree definition")
		return 1
	}

	s, controller, err := openForExecution(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		return 1
	}
	defer s.Close()

	ctx, cancel := withSignalCancel()
	defer cancel()

	runID, err := engine.InstantiateRun(ctx, s, def)
	if err != nil {
		log.Error().Err(err).Str("tree_id", def.ID).Msg("failed to instantiate run")
		return 1
	}
	fmt.Printf("run %s instantiated from %q\n", runID, def.ID)

	return executeAndReport(ctx, controller, runID, cfg.maxSteps)
}

// cmdResume continues executing an already-instantiated run.
func cmdResume(cfg config) int {
	if cfg.arg == "" {
		fmt.Fprintln(os.Stderr, "error: resume requires a run-id argument")
		return 2
	}
	s, controller, err := openForExecution(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		return 1
	}
	defer s.Close()

	ctx, cancel := withSignalCancel()
	defer cancel()

	return executeAndReport(ctx, controller, cfg.arg, cfg.maxSteps)
}

func executeAndReport(ctx context.Context, controller *engine.Controller, runID string, maxSteps int) int {
	result, err := controller.ExecuteRun(ctx, runID, maxSteps)
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("run execution failed")
		return 1
	}

	fmt.Printf("run %s: %s after %d step(s)", runID, result.RunStatus, result.StepsTaken)
	if result.CapHit {
		fmt.Printf(" (step cap reached)")
	}
	fmt.Println()

	if result.RunStatus == workflow.RunFailed {
		return 1
	}
	return 0
}

func cmdStatus(cfg config) int {
	if cfg.arg == "" {
		fmt.Fprintln(os.Stderr, "error: status requires a run-id argument")
		return 2
	}
	s, err := openStore(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		return 1
	}
	defer s.Close()

	ctx := context.Background()
	run, err := s.GetRun(ctx, cfg.arg)
	if err != nil {
		log.Error().Err(err).Str("run_id", cfg.arg).Msg("failed to load run")
		return 1
	}
	nodes, err := s.ListRunNodes(ctx, cfg.arg)
	if err != nil {
		log.Error().Err(err).Str("run_id", cfg.arg).Msg("failed to list run nodes")
		return 1
	}

	fmt.Printf("run %s: %s\n", run.ID, run.Status)
	for _, n := range nodes {
		fmt.Printf("  %-24s %-10s attempt=%d role=%s\n", n.NodeKey, n.Status, n.Attempt, n.NodeRole)
	}
	return 0
}

// cmdControl runs a single Controller action against an existing run and
// prints the resulting status.
func cmdControl(cfg config, action func(*engine.Controller, context.Context) (workflow.RunStatus, error)) int {
	if cfg.arg == "" {
		fmt.Fprintf(os.Stderr, "error: %s requires a run-id argument\n", cfg.command)
		return 2
	}
	s, controller, err := openForExecution(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		return 1
	}
	defer s.Close()

	status, err := action(controller, context.Background())
	if err != nil {
		log.Error().Err(err).Str("run_id", cfg.arg).Str("command", cfg.command).Msg("control action failed")
		return 1
	}
	fmt.Printf("run %s: %s\n", cfg.arg, status)
	return 0
}

// openForExecution opens the store and wires an Executor/Controller pair
// with the provider registry resolved from the environment.
func openForExecution(cfg config) (*store.Store, *engine.Controller, error) {
	s, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	guards, err := workflow.NewGuardEvaluator()
	if err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("build guard evaluator: %w", err)
	}

	registry, err := buildProviderRegistry()
	if err != nil {
		s.Close()
		return nil, nil, err
	}

	executor := &engine.Executor{
		Store:          s,
		Match:          guards.Match,
		Providers:      registry,
		DefaultTimeout: cfg.providerTimeout,
	}
	if cfg.verbose {
		executor.OnEvent = verboseEventHandler
	}

	return s, engine.NewController(executor), nil
}

func openStore(cfg config) (*store.Store, error) {
	dataDir := cfg.dataDir
	if dataDir == "" {
		resolved, err := defaultDataDir()
		if err != nil {
			return nil, fmt.Errorf("resolve data dir: %w", err)
		}
		dataDir = resolved
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return store.Open(filepath.Join(dataDir, "alphred.db"))
}

// buildProviderRegistry registers a real claude-cli adapter when the
// environment looks configured for it, and always registers a scripted fake
// under "fake" so tree definitions can exercise the engine without a live
// backend.
func buildProviderRegistry() (*provider.Registry, error) {
	registry := provider.NewRegistry()
	registry.Register("fake", &provider.Fake{Events: provider.NewFakeResult("", "approved")})

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		log.Debug().Msg("ANTHROPIC_API_KEY not set, claude-cli unavailable")
		return registry, nil
	}

	adapter, err := provider.NewClaudeCLIAdapter(provider.ClaudeCLI{})
	if err != nil {
		log.Warn().Err(err).Msg("claude-cli unavailable")
		return registry, nil
	}
	log.Debug().Msg("claude-cli registered")
	registry.Register("claude-cli", adapter)
	return registry, nil
}

// withSignalCancel returns a context cancelled on SIGINT/SIGTERM, so an
// in-flight run observes cancellation at its next persistence checkpoint
// rather than being killed mid-provider-call (§5).
func withSignalCancel() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("interrupted, cancelling at next checkpoint...")
		cancel()
	}()
	return ctx, cancel
}

// verboseEventHandler logs provider events as they stream, at debug level.
func verboseEventHandler(ev provider.Event) {
	switch ev.Type {
	case provider.EventAssistant:
		log.Debug().Str("event", "assistant").Msg(ev.Content)
	case provider.EventToolUse:
		log.Debug().Str("event", "tool_use").Interface("tool", ev.Metadata["name"]).Send()
	case provider.EventResult:
		log.Debug().Str("event", "result").Interface("tokens_used", ev.Metadata["tokensUsed"]).Send()
	}
}
