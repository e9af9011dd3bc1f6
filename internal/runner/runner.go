package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/sqlflow/internal/executor"
	"github.com/alexisbeaulieu97/sqlflow/internal/graph"
	"github.com/alexisbeaulieu97/sqlflow/internal/logger"
	"github.com/alexisbeaulieu97/sqlflow/internal/observability"
	"github.com/alexisbeaulieu97/sqlflow/internal/planner"
	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// Runner schedules a compiled graph level by level, running independent
// steps concurrently within each level.
type Runner struct {
	Executors []executor.StepExecutor
	Strategy  Strategy
	Obs       *observability.Manager
	Log       *logger.Logger
	// FailFast skips everything after the first failing level. When false,
	// only steps downstream of a failure are skipped.
	FailFast bool
}

// New returns a runner with the full executor set and the given strategy.
func New(strategy Strategy, obs *observability.Manager, log *logger.Logger) *Runner {
	return &Runner{
		Executors: executor.Executors(),
		Strategy:  strategy,
		Obs:       obs,
		Log:       log,
		FailFast:  true,
	}
}

// RunResult is the outcome of one pipeline run, results in plan order.
// Cancelled is set when the run stopped because its context was cancelled;
// a cancelled run is not a failed one.
type RunResult struct {
	RunID        string
	PipelineName string
	Results      []executor.StepResult
	Duration     time.Duration
	Failed       bool
	Cancelled    bool
}

// FirstError returns the first failed step's error, falling back to the
// first cancelled step's, or nil.
func (r *RunResult) FirstError() error {
	for _, res := range r.Results {
		if res.Status == executor.StatusError && res.Error != nil {
			return res.Error
		}
	}
	for _, res := range r.Results {
		if res.Status == executor.StatusCancelled && res.Error != nil {
			return res.Error
		}
	}
	return nil
}

// Counts tallies results by status.
func (r *RunResult) Counts() map[executor.Status]int {
	counts := make(map[executor.Status]int)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Run executes the graph. Deltas from completed steps are merged into the
// execution context on the coordinator goroutine between levels, so worker
// goroutines only ever read it.
func (r *Runner) Run(ctx context.Context, pipelineName string, g *graph.Graph, ec executor.Context) (*RunResult, error) {
	started := time.Now()
	if ec.RunID == "" {
		ec.RunID = uuid.NewString()
	}

	settings := r.Strategy.Resolve(g)
	if ec.ChunkSize == 0 {
		ec.ChunkSize = settings.ChunkSize
	}

	ioPool := make(chan struct{}, settings.Workers)
	var cpuPool chan struct{}
	if settings.CPUWorkers > 0 {
		cpuPool = make(chan struct{}, settings.CPUWorkers)
	}

	log := r.Log.WithFields(map[string]any{
		"run_id":   ec.RunID,
		"pipeline": pipelineName,
		"strategy": string(r.Strategy),
	})
	log.Info("run started")

	resultsByID := make(map[string]executor.StepResult, g.Size())
	failed := make(map[string]bool)
	aborted := false
	cancelled := false

	for _, level := range g.TopologicalLevels() {
		runnable, skipped := r.partitionLevel(g, level, failed, aborted, cancelled)
		for _, res := range skipped {
			resultsByID[res.StepID] = res
		}
		if len(runnable) == 0 {
			continue
		}

		levelResults := make([]executor.StepResult, len(runnable))
		levelDeltas := make([]executor.Delta, len(runnable))
		var levelFailed bool
		var once sync.Once
		var wg sync.WaitGroup

		for idx, id := range runnable {
			node, _ := g.Node(id)
			op := node.Operation

			wg.Add(1)
			go func(idx int, op *planner.Operation) {
				defer wg.Done()

				pool := ioPool
				if cpuPool != nil && cpuHeavy(op) {
					pool = cpuPool
				}
				select {
				case pool <- struct{}{}:
					defer func() { <-pool }()
				case <-ctx.Done():
					levelResults[idx] = cancelledResult(op.ID, ctx.Err())
					once.Do(func() { levelFailed = true })
					return
				}

				res, delta := r.runStep(ctx, ec, op)
				levelResults[idx] = res
				levelDeltas[idx] = delta
				if res.Status == executor.StatusError || res.Status == executor.StatusCancelled {
					once.Do(func() { levelFailed = true })
				}
			}(idx, op)
		}

		wg.Wait()

		for idx, res := range levelResults {
			resultsByID[res.StepID] = res
			switch res.Status {
			case executor.StatusError:
				failed[res.StepID] = true
			case executor.StatusCancelled:
				failed[res.StepID] = true
				cancelled = true
			default:
				ec = ec.WithDelta(levelDeltas[idx])
			}
		}
		if levelFailed && r.FailFast {
			aborted = true
		}
	}

	result := &RunResult{
		RunID:        ec.RunID,
		PipelineName: pipelineName,
		Duration:     time.Since(started),
	}
	for _, op := range g.Operations() {
		res, ok := resultsByID[op.ID]
		if !ok {
			res = executor.StepResult{StepID: op.ID, Status: executor.StatusPending}
		}
		switch res.Status {
		case executor.StatusError:
			result.Failed = true
		case executor.StatusCancelled:
			result.Cancelled = true
		}
		result.Results = append(result.Results, res)
	}

	counts := result.Counts()
	log.WithFields(map[string]any{
		"duration":  result.Duration.Round(time.Millisecond).String(),
		"success":   counts[executor.StatusSuccess],
		"errors":    counts[executor.StatusError],
		"cancelled": counts[executor.StatusCancelled],
		"skipped":   counts[executor.StatusSkipped],
	}).Info("run finished")

	if result.Failed || result.Cancelled {
		return result, result.FirstError()
	}
	return result, nil
}

// partitionLevel splits a level into steps to run and steps to skip
// because an upstream step failed or the run was aborted.
func (r *Runner) partitionLevel(g *graph.Graph, level []string, failed map[string]bool, aborted, cancelled bool) ([]string, []executor.StepResult) {
	var runnable []string
	var skipped []executor.StepResult

	for _, id := range level {
		node, ok := g.Node(id)
		if !ok {
			continue
		}
		blockedBy := ""
		for _, dep := range node.DependsOn {
			if failed[dep.ID] {
				blockedBy = dep.ID
				break
			}
		}
		switch {
		case blockedBy != "":
			failed[id] = true // propagate so descendants skip too
			skipped = append(skipped, executor.StepResult{
				StepID:  id,
				Status:  executor.StatusSkipped,
				Message: fmt.Sprintf("skipped: upstream failure in %s", blockedBy),
			})
		case aborted:
			failed[id] = true
			message := "skipped: run aborted after earlier failure"
			if cancelled {
				message = "skipped: run cancelled"
			}
			skipped = append(skipped, executor.StepResult{
				StepID:  id,
				Status:  executor.StatusSkipped,
				Message: message,
			})
		default:
			runnable = append(runnable, id)
		}
	}
	return runnable, skipped
}

func (r *Runner) runStep(ctx context.Context, ec executor.Context, op *planner.Operation) (executor.StepResult, executor.Delta) {
	if err := ctx.Err(); err != nil {
		return cancelledResult(op.ID, err), executor.Delta{}
	}

	ex := executor.For(r.Executors, op)
	if ex == nil {
		err := sqlflowerrors.NewExecutionError(op.ID,
			fmt.Errorf("no executor registered for operation type %q", op.Type))
		return executor.StepResult{
			StepID: op.ID, Status: executor.StatusError, Error: err, Message: err.Error(),
		}, executor.Delta{}
	}

	if r.Obs != nil {
		r.Obs.RecordStepStart(op.ID, string(op.Type))
	}
	stepLog := r.Log.WithStep(op.ID)
	stepLog.Debug("step started")

	res, delta := ex.Execute(ctx, ec, op)

	// A step that died to context cancellation was interrupted, not broken.
	if res.Status == executor.StatusError && ctx.Err() != nil && errors.Is(res.Error, ctx.Err()) {
		res.Status = executor.StatusCancelled
		res.Message = "cancelled"
	}

	switch res.Status {
	case executor.StatusCancelled:
		stepLog.Debug("step cancelled")
	case executor.StatusError:
		if r.Obs != nil {
			r.Obs.RecordStepFailure(op.ID, string(op.Type), res.Duration, res.Error)
		}
		stepLog.Error(res.Error, "step failed")
	default:
		if r.Obs != nil {
			r.Obs.RecordStepSuccess(op.ID, string(op.Type), res.Duration, res.RowCount)
		}
		stepLog.WithFields(map[string]any{
			"rows":     res.RowCount,
			"duration": res.Duration.Round(time.Millisecond).String(),
		}).Debug("step finished")
	}
	return res, delta
}

func cancelledResult(stepID string, err error) executor.StepResult {
	wrapped := sqlflowerrors.NewExecutionError(stepID, err)
	return executor.StepResult{
		StepID:  stepID,
		Status:  executor.StatusCancelled,
		Error:   wrapped,
		Message: "cancelled",
	}
}
