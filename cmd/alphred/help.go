// ABOUTME: Usage text printed by -h/--help and on bad invocations.
package main

import (
	"fmt"
	"io"
)

func printHelp(w io.Writer, version string) {
	fmt.Fprintf(w, `alphred %s -- SQL-backed orchestrator for multi-step agent workflows

Usage:
  alphred run <tree.yaml> [flags]       Instantiate a run from a tree definition and execute it
  alphred resume <run-id> [flags]       Continue executing an existing run
  alphred status <run-id>               Print a run's status and node table
  alphred cancel <run-id>               Cancel a run (pending/running/paused -> cancelled)
  alphred pause <run-id>                Pause a running run
  alphred unpause <run-id>              Resume a paused run
  alphred retry <run-id>                Reschedule a failed run's failed nodes and resume it

Flags:
`, version)
}
