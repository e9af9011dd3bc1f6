package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/sqlflow/internal/connector"
	"github.com/alexisbeaulieu97/sqlflow/internal/materialize"
	"github.com/alexisbeaulieu97/sqlflow/internal/planner"
	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// SourceDefinitionExecutor registers a named source for downstream loads.
// It validates the connector configuration but moves no data.
type SourceDefinitionExecutor struct{}

func (e *SourceDefinitionExecutor) CanExecute(op *planner.Operation) bool {
	return op.Type == planner.OpSourceDefinition
}

func (e *SourceDefinitionExecutor) Execute(ctx context.Context, ec Context, op *planner.Operation) (StepResult, Delta) {
	started := time.Now()

	params := op.Source.Params
	connType := op.Source.ConnectorType
	if op.Source.FromProfile {
		// Params were resolved from the profile connector at plan time;
		// options layer on top.
		params = mergeParams(op.Source.Params, op.Source.Options)
	}

	// Build the connector once up front so misconfiguration fails at the
	// definition step, not at first use.
	if _, err := ec.Registry.Source(connType, params); err != nil {
		return errorResult(op, started, stepError(op, err)), Delta{}
	}

	delta := Delta{Sources: map[string]RegisteredSource{
		op.Name: {Name: op.Name, ConnectorType: connType, Params: params},
	}}
	return successResult(op, started, 0, fmt.Sprintf("registered %s source %q", connType, op.Name)), delta
}

func mergeParams(params, options map[string]any) map[string]any {
	merged := make(map[string]any, len(params)+len(options))
	for k, v := range params {
		merged[k] = v
	}
	for k, v := range options {
		merged[k] = v
	}
	return merged
}

// LoadExecutor pulls a registered source into an engine table. The reader
// and the loader run concurrently over a single-slot channel: each chunk
// lands in its own transaction, so memory stays bounded by the chunk size
// and cancellation takes effect between chunks.
type LoadExecutor struct{}

func (e *LoadExecutor) CanExecute(op *planner.Operation) bool {
	return op.Type == planner.OpLoad
}

func (e *LoadExecutor) Execute(ctx context.Context, ec Context, op *planner.Operation) (StepResult, Delta) {
	started := time.Now()
	spec := op.Load

	registered, ok := ec.Sources[spec.SourceName]
	if !ok {
		return errorResult(op, started, stepError(op, fmt.Errorf(
			"source %q is not registered; did its definition step run?", spec.SourceName))), Delta{}
	}

	src, err := ec.Registry.Source(registered.ConnectorType, registered.Params)
	if err != nil {
		return errorResult(op, started, stepError(op, err)), Delta{}
	}

	chunks := make(chan connector.Chunk, 1)
	readErr := make(chan error, 1)
	go func() {
		defer close(chunks)
		readErr <- src.ReadStream(ctx, ec.ChunkSize, func(chunk connector.Chunk) error {
			select {
			case chunks <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	loader := materialize.NewChunkLoader(ec.Engine, spec.TargetTable, materialize.Options{
		Mode: spec.Mode,
		Keys: spec.UpsertKeys,
	})
	log := ec.Log.WithStep(op.ID)

	var columns []string
	var loadErr error
	for chunk := range chunks {
		if columns == nil {
			columns = chunk.Columns
			if loadErr = loader.Begin(ctx, chunk.Columns, chunk.Rows); loadErr != nil {
				break
			}
		}
		n, err := loader.WriteChunk(ctx, chunk.Rows)
		if err != nil {
			loadErr = err
			break
		}
		log.WithFields(map[string]any{
			"chunk": chunk.Index, "rows": n, "status": "loaded",
		}).Debug("loaded chunk")
	}
	if loadErr != nil {
		// Unblock the reader before reporting.
		for range chunks {
		}
		<-readErr
		return errorResult(op, started, stepError(op, loadErr)), Delta{}
	}
	if err := <-readErr; err != nil {
		return errorResult(op, started, stepError(op, err)), Delta{}
	}
	if columns == nil {
		return successResult(op, started, 0, fmt.Sprintf("source %q produced no columns", spec.SourceName)), Delta{}
	}

	n, err := loader.Close(ctx)
	if err != nil {
		return errorResult(op, started, stepError(op, err)), Delta{}
	}
	return successResult(op, started, n,
		fmt.Sprintf("loaded %d rows into %s", n, spec.TargetTable)), Delta{}
}

// TransformExecutor materializes a CREATE TABLE AS SELECT per its mode.
type TransformExecutor struct{}

func (e *TransformExecutor) CanExecute(op *planner.Operation) bool {
	return op.Type == planner.OpTransform
}

func (e *TransformExecutor) Execute(ctx context.Context, ec Context, op *planner.Operation) (StepResult, Delta) {
	started := time.Now()
	spec := op.Transform

	n, err := materialize.Apply(ctx, ec.Engine, spec.TargetTable, spec.SQL, materialize.Options{
		Mode:       spec.Mode,
		Keys:       spec.MergeKeys,
		TimeColumn: spec.TimeColumn,
		Lookback:   spec.Lookback,
	})
	if err != nil {
		return errorResult(op, started, stepError(op, err)), Delta{}
	}
	return successResult(op, started, n,
		fmt.Sprintf("materialized %s (%d rows)", spec.TargetTable, n)), Delta{}
}

// ExportExecutor runs a SELECT against the engine and streams the result
// to a destination connector.
type ExportExecutor struct{}

func (e *ExportExecutor) CanExecute(op *planner.Operation) bool {
	return op.Type == planner.OpExport
}

func (e *ExportExecutor) Execute(ctx context.Context, ec Context, op *planner.Operation) (StepResult, Delta) {
	started := time.Now()
	spec := op.Export

	connType := spec.ConnectorType
	if connType == "" {
		connType = inferDestinationType(spec.DestinationURI)
	}
	if connType == "" {
		return errorResult(op, started, stepError(op, fmt.Errorf(
			"cannot infer connector type for destination %q; add a TYPE clause", spec.DestinationURI))), Delta{}
	}

	dest, err := ec.Registry.Destination(connType, spec.DestinationURI, spec.Options)
	if err != nil {
		return errorResult(op, started, stepError(op, err)), Delta{}
	}

	// The query and the destination write run concurrently over a
	// single-slot channel; neither side ever holds more than one chunk.
	chunks := make(chan connector.Chunk, 1)
	type writeOutcome struct {
		n   int64
		err error
	}
	outcome := make(chan writeOutcome, 1)
	go func() {
		n, err := dest.WriteStream(ctx, chunks)
		outcome <- writeOutcome{n: n, err: err}
	}()

	index := 0
	queryErr := ec.Engine.QueryStream(ctx, spec.SQL, ec.ChunkSize, func(columns []string, rows [][]any) error {
		select {
		case chunks <- connector.Chunk{Index: index, Columns: columns, Rows: rows}:
			index++
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	close(chunks)
	res := <-outcome

	if queryErr != nil {
		return errorResult(op, started, stepError(op, queryErr)), Delta{}
	}
	if res.err != nil {
		return errorResult(op, started, stepError(op, res.err)), Delta{}
	}
	return successResult(op, started, res.n,
		fmt.Sprintf("exported %d rows to %s", res.n, spec.DestinationURI)), Delta{}
}

// inferDestinationType guesses the connector from the URI shape.
func inferDestinationType(uri string) string {
	lower := strings.ToLower(uri)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	}
	switch filepath.Ext(lower) {
	case ".csv", ".tsv":
		return "csv"
	}
	return ""
}

// stepError wraps a failure with the step id so run output can point at
// the exact operation.
func stepError(op *planner.Operation, err error) error {
	return sqlflowerrors.NewExecutionError(op.ID, err)
}
