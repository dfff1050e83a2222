// ABOUTME: Run controller (C9): step loop to completion, plus cancel/pause/resume/retry controls.
// ABOUTME: Grounded on the teacher's attractor/engine.go step-until-terminal loop and bounded retry pattern.
package engine

import (
	"context"
	"time"

	"github.com/hansjm10/alphred/internal/store"
	"github.com/hansjm10/alphred/internal/workflow"
)

// RunResult is returned by ExecuteRun once the step loop stops.
type RunResult struct {
	RunStatus  workflow.RunStatus
	StepsTaken int
	CapHit     bool
}

// Controller drives a run to completion and applies control actions.
type Controller struct {
	Executor *Executor
}

// NewController builds a Controller bound to the given executor.
func NewController(executor *Executor) *Controller {
	return &Controller{Executor: executor}
}

func (c *Controller) store() *store.Store { return c.Executor.Store }

// sleepOrCancel waits d, returning early with ctx.Err() if ctx is cancelled first.
func sleepOrCancel(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteRun repeatedly calls ExecuteNextRunnableNode until a non-executed
// outcome or maxSteps is reached (§4.9). maxSteps<=0 is a caller error.
func (c *Controller) ExecuteRun(ctx context.Context, runID string, maxSteps int) (RunResult, error) {
	if maxSteps <= 0 {
		return RunResult{}, workflow.NewErrInvalidRequest("maxSteps must be > 0")
	}

	steps := 0
	for steps < maxSteps {
		step, err := c.Executor.ExecuteNextRunnableNode(ctx, runID, true)
		if err != nil {
			return RunResult{StepsTaken: steps}, err
		}
		steps++

		if step.Outcome != StepExecuted {
			return RunResult{RunStatus: step.RunStatus, StepsTaken: steps}, nil
		}

		// A step that left its node pending just rescheduled a retry (§4.7);
		// back off before the next claim attempt picks it back up.
		if step.RunNodeStatus == workflow.NodePending {
			node, err := c.store().GetRunNode(ctx, step.RunNodeID)
			if err != nil {
				return RunResult{StepsTaken: steps}, err
			}
			// node.Attempt is already the next attempt, so attempt 2 is retry index 0.
			if err := sleepOrCancel(ctx, workflow.DefaultBackoff.DelayForAttempt(node.Attempt-2)); err != nil {
				return RunResult{StepsTaken: steps}, err
			}
		}
	}

	return c.failOnCapExhaustion(ctx, runID, steps)
}

func (c *Controller) failOnCapExhaustion(ctx context.Context, runID string, steps int) (RunResult, error) {
	status, err := c.retryTransition(ctx, runID, func(tx *store.Tx, run *workflow.WorkflowRun) (bool, workflow.RunStatus, error) {
		if run.Status.IsTerminal() {
			return true, run.Status, nil
		}
		now := time.Now()
		ok, err := tx.UpdateRunStatus(ctx, runID, run.Status, workflow.RunFailed, &now)
		return ok, workflow.RunFailed, err
	})
	if err != nil {
		return RunResult{StepsTaken: steps}, err
	}
	return RunResult{RunStatus: status, StepsTaken: steps, CapHit: true}, nil
}

// Cancel transitions a run to cancelled from pending, running, or paused;
// a noop if the run is already cancelled (§4.9).
func (c *Controller) Cancel(ctx context.Context, runID string) (workflow.RunStatus, error) {
	return c.retryTransition(ctx, runID, func(tx *store.Tx, run *workflow.WorkflowRun) (bool, workflow.RunStatus, error) {
		if run.Status == workflow.RunCancelled {
			return true, run.Status, nil
		}
		if !workflow.IsAllowedRunTransition(run.Status, workflow.RunCancelled) {
			return false, "", workflow.NewErrInvalidTransition("workflow_run", string(run.Status), string(workflow.RunCancelled))
		}
		now := time.Now()
		ok, err := tx.UpdateRunStatus(ctx, runID, run.Status, workflow.RunCancelled, &now)
		return ok, workflow.RunCancelled, err
	})
}

// Pause transitions a running run to paused; a noop if already paused.
func (c *Controller) Pause(ctx context.Context, runID string) (workflow.RunStatus, error) {
	return c.retryTransition(ctx, runID, func(tx *store.Tx, run *workflow.WorkflowRun) (bool, workflow.RunStatus, error) {
		if run.Status == workflow.RunPaused {
			return true, run.Status, nil
		}
		if !workflow.IsAllowedRunTransition(run.Status, workflow.RunPaused) {
			return false, "", workflow.NewErrInvalidTransition("workflow_run", string(run.Status), string(workflow.RunPaused))
		}
		ok, err := tx.UpdateRunStatus(ctx, runID, run.Status, workflow.RunPaused, nil)
		return ok, workflow.RunPaused, err
	})
}

// Resume transitions a paused run back to running; a noop if already running.
func (c *Controller) Resume(ctx context.Context, runID string) (workflow.RunStatus, error) {
	return c.retryTransition(ctx, runID, func(tx *store.Tx, run *workflow.WorkflowRun) (bool, workflow.RunStatus, error) {
		if run.Status == workflow.RunRunning {
			return true, run.Status, nil
		}
		if !workflow.IsAllowedRunTransition(run.Status, workflow.RunRunning) {
			return false, "", workflow.NewErrInvalidTransition("workflow_run", string(run.Status), string(workflow.RunRunning))
		}
		ok, err := tx.UpdateRunStatus(ctx, runID, run.Status, workflow.RunRunning, nil)
		return ok, workflow.RunRunning, err
	})
}

// Retry finds every latest-attempt failed node, transitions each back to
// pending with attempt+1, then flips the run to running, all within one
// transaction. Fails with ErrInvalidRequest if no failed node exists (§4.9).
func (c *Controller) Retry(ctx context.Context, runID string) (workflow.RunStatus, error) {
	return c.retryTransition(ctx, runID, func(tx *store.Tx, run *workflow.WorkflowRun) (bool, workflow.RunStatus, error) {
		if run.Status != workflow.RunFailed {
			return false, "", workflow.NewErrInvalidTransition("workflow_run", string(run.Status), string(workflow.RunRunning))
		}

		nodes, err := tx.ListRunNodes(ctx, runID)
		if err != nil {
			return false, "", err
		}

		var failed []*workflow.RunNode
		for _, n := range nodes {
			if n.Status == workflow.NodeFailed {
				failed = append(failed, n)
			}
		}
		if len(failed) == 0 {
			return false, "", workflow.NewErrInvalidRequest("retry requires at least one failed run-node")
		}

		for _, n := range failed {
			ok, err := tx.UpdateRunNodeStatus(ctx, store.NodeTransition{
				ID: n.ID, FromStatus: workflow.NodeFailed, ToStatus: workflow.NodePending,
				OccurredAt: time.Now(), IncrementAttempt: true,
			})
			if err != nil {
				return false, "", err
			}
			if !ok {
				return false, "", nil
			}
			if n.JoinNodeID != nil {
				if err := ReopenBarrierForRetry(ctx, tx, n); err != nil {
					return false, "", err
				}
			}
		}

		ok, err := tx.UpdateRunStatus(ctx, runID, run.Status, workflow.RunRunning, nil)
		return ok, workflow.RunRunning, err
	})
}

// retryTransition runs attempt inside a transaction, re-reading the run's
// current status each time, and bounds retries at
// MaxControlPreconditionRetries before surfacing ErrConcurrentConflict
// (§4.9, §7). attempt returns (succeeded, resultingStatus, err); succeeded
// false with a nil err signals a precondition miss worth retrying.
func (c *Controller) retryTransition(ctx context.Context, runID string, attempt func(tx *store.Tx, run *workflow.WorkflowRun) (bool, workflow.RunStatus, error)) (workflow.RunStatus, error) {
	var lastObserved workflow.RunStatus

	for i := 0; i < workflow.MaxControlPreconditionRetries; i++ {
		var succeeded bool
		var resultStatus workflow.RunStatus

		err := c.store().WithTx(ctx, func(tx *store.Tx) error {
			run, err := tx.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			lastObserved = run.Status

			ok, status, err := attempt(tx, run)
			if err != nil {
				return err
			}
			succeeded = ok
			resultStatus = status
			return nil
		})
		if err != nil {
			return "", err
		}
		if succeeded {
			return resultStatus, nil
		}
	}

	return "", workflow.NewErrConcurrentConflict("workflow_run", runID, string(lastObserved))
}
