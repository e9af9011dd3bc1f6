package executor

import (
	"context"
	"time"

	"github.com/alexisbeaulieu97/sqlflow/internal/connector"
	"github.com/alexisbeaulieu97/sqlflow/internal/engine"
	"github.com/alexisbeaulieu97/sqlflow/internal/logger"
	"github.com/alexisbeaulieu97/sqlflow/internal/planner"
)

// Status is the lifecycle state of a step within a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// StepResult is the outcome of one executed operation.
type StepResult struct {
	StepID   string
	Status   Status
	Message  string
	Error    error
	Duration time.Duration
	RowCount int64
}

// RegisteredSource is a source definition resolved to concrete connector
// settings, available to downstream loads.
type RegisteredSource struct {
	Name          string
	ConnectorType string
	Params        map[string]any
}

// Delta carries state a step contributes back to the run. Deltas are
// merged on the coordinator goroutine only, so executors never share
// mutable state.
type Delta struct {
	Sources map[string]RegisteredSource
}

// Context is the immutable per-run environment handed to every step.
// Updates go through WithDelta, which returns a new value.
type Context struct {
	RunID     string
	Engine    *engine.Engine
	Registry  *connector.Registry
	Sources   map[string]RegisteredSource
	Log       *logger.Logger
	ChunkSize int
}

// WithDelta returns a copy of the context with the delta's sources merged
// in. The receiver is not modified.
func (c Context) WithDelta(d Delta) Context {
	if len(d.Sources) == 0 {
		return c
	}
	merged := make(map[string]RegisteredSource, len(c.Sources)+len(d.Sources))
	for k, v := range c.Sources {
		merged[k] = v
	}
	for k, v := range d.Sources {
		merged[k] = v
	}
	c.Sources = merged
	return c
}

// StepExecutor runs one kind of planned operation.
type StepExecutor interface {
	// CanExecute reports whether this executor handles the operation.
	CanExecute(op *planner.Operation) bool
	// Execute runs the operation and returns its result plus any state
	// delta. Execute must honor ctx cancellation between chunks.
	Execute(ctx context.Context, ec Context, op *planner.Operation) (StepResult, Delta)
}

// Executors returns the full executor set in dispatch order.
func Executors() []StepExecutor {
	return []StepExecutor{
		&SourceDefinitionExecutor{},
		&LoadExecutor{},
		&TransformExecutor{},
		&ExportExecutor{},
	}
}

// For returns the executor handling the operation, or nil.
func For(executors []StepExecutor, op *planner.Operation) StepExecutor {
	for _, ex := range executors {
		if ex.CanExecute(op) {
			return ex
		}
	}
	return nil
}

func successResult(op *planner.Operation, started time.Time, rows int64, message string) StepResult {
	return StepResult{
		StepID:   op.ID,
		Status:   StatusSuccess,
		Message:  message,
		Duration: time.Since(started),
		RowCount: rows,
	}
}

func errorResult(op *planner.Operation, started time.Time, err error) StepResult {
	return StepResult{
		StepID:   op.ID,
		Status:   StatusError,
		Error:    err,
		Message:  err.Error(),
		Duration: time.Since(started),
	}
}
