package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/sqlflow/internal/executor"
	"github.com/alexisbeaulieu97/sqlflow/internal/graph"
	"github.com/alexisbeaulieu97/sqlflow/internal/logger"
	"github.com/alexisbeaulieu97/sqlflow/internal/observability"
	"github.com/alexisbeaulieu97/sqlflow/internal/planner"
)

// fakeExecutor handles every operation with a per-step function.
type fakeExecutor struct {
	mu    sync.Mutex
	runs  []string
	fail  map[string]error
	delay time.Duration
	delta map[string]executor.Delta
}

func (f *fakeExecutor) CanExecute(op *planner.Operation) bool { return true }

func (f *fakeExecutor) Execute(ctx context.Context, ec executor.Context, op *planner.Operation) (executor.StepResult, executor.Delta) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return executor.StepResult{StepID: op.ID, Status: executor.StatusCancelled, Error: ctx.Err(), Message: "cancelled"}, executor.Delta{}
		}
	}
	f.mu.Lock()
	f.runs = append(f.runs, op.ID)
	f.mu.Unlock()

	if err, ok := f.fail[op.ID]; ok {
		return executor.StepResult{
			StepID: op.ID, Status: executor.StatusError, Error: err, Message: err.Error(),
		}, executor.Delta{}
	}
	var delta executor.Delta
	if f.delta != nil {
		delta = f.delta[op.ID]
	}
	return executor.StepResult{StepID: op.ID, Status: executor.StatusSuccess, RowCount: 1}, delta
}

func (f *fakeExecutor) ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.runs...)
}

func op(id string, deps ...string) *planner.Operation {
	return &planner.Operation{
		ID: id, Type: planner.OpTransform, Name: id, DependsOn: deps,
		Transform: &planner.TransformSpec{TargetTable: id, SQL: "SELECT 1"},
	}
}

func buildGraph(t *testing.T, ops ...*planner.Operation) *graph.Graph {
	t.Helper()
	g, err := graph.Build(&planner.Plan{PipelineName: "test", Operations: ops})
	require.NoError(t, err)
	return g
}

func newRunner(fake *fakeExecutor) *Runner {
	r := New(StrategyAuto, observability.NewManager(observability.Options{}), logger.Nop())
	r.Executors = []executor.StepExecutor{fake}
	return r
}

func TestRunAllSuccess(t *testing.T) {
	fake := &fakeExecutor{}
	r := newRunner(fake)
	g := buildGraph(t, op("a"), op("b", "a"), op("c", "b"))

	result, err := r.Run(context.Background(), "p", g, executor.Context{})
	require.NoError(t, err)
	assert.False(t, result.Failed)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, []string{"a", "b", "c"}, fake.ran())

	require.Len(t, result.Results, 3)
	for _, res := range result.Results {
		assert.Equal(t, executor.StatusSuccess, res.Status)
	}
}

func TestRunResultsInPlanOrder(t *testing.T) {
	fake := &fakeExecutor{}
	r := newRunner(fake)
	g := buildGraph(t, op("z"), op("a", "z"), op("m", "z"))

	result, err := r.Run(context.Background(), "p", g, executor.Context{})
	require.NoError(t, err)

	var ids []string
	for _, res := range result.Results {
		ids = append(ids, res.StepID)
	}
	assert.Equal(t, []string{"z", "a", "m"}, ids)
}

func TestFailureSkipsDescendants(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeExecutor{fail: map[string]error{"b": boom}}
	r := newRunner(fake)
	r.FailFast = false
	g := buildGraph(t,
		op("a"),
		op("b", "a"),
		op("side", "a"),
		op("c", "b"),
		op("d", "c"),
		op("independent", "side"),
	)

	result, err := r.Run(context.Background(), "p", g, executor.Context{})
	require.Error(t, err)
	assert.True(t, result.Failed)

	byID := make(map[string]executor.StepResult)
	for _, res := range result.Results {
		byID[res.StepID] = res
	}
	assert.Equal(t, executor.StatusSuccess, byID["a"].Status)
	assert.Equal(t, executor.StatusError, byID["b"].Status)
	assert.Equal(t, executor.StatusSkipped, byID["c"].Status)
	assert.Contains(t, byID["c"].Message, "upstream failure")
	assert.Equal(t, executor.StatusSkipped, byID["d"].Status)
	// Steps off the failed subtree still run when FailFast is off.
	assert.Equal(t, executor.StatusSuccess, byID["side"].Status)
	assert.Equal(t, executor.StatusSuccess, byID["independent"].Status)
}

func TestFailFastAbortsLaterLevels(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeExecutor{fail: map[string]error{"b": boom}}
	r := newRunner(fake)
	g := buildGraph(t,
		op("a"),
		op("b", "a"),
		op("side", "a"),
		op("unrelated", "side"),
	)

	result, err := r.Run(context.Background(), "p", g, executor.Context{})
	require.Error(t, err)

	byID := make(map[string]executor.StepResult)
	for _, res := range result.Results {
		byID[res.StepID] = res
	}
	// b and side share a level; the sibling finishes.
	assert.Equal(t, executor.StatusSuccess, byID["side"].Status)
	assert.Equal(t, executor.StatusSkipped, byID["unrelated"].Status)
	assert.Contains(t, byID["unrelated"].Message, "aborted")
}

func TestSiblingsFinishWhenOneFails(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeExecutor{fail: map[string]error{"b1": boom}}
	r := newRunner(fake)
	g := buildGraph(t, op("a"), op("b1", "a"), op("b2", "a"), op("b3", "a"))

	result, _ := r.Run(context.Background(), "p", g, executor.Context{})
	counts := result.Counts()
	assert.Equal(t, 3, counts[executor.StatusSuccess])
	assert.Equal(t, 1, counts[executor.StatusError])
}

func TestDeltasVisibleToLaterLevels(t *testing.T) {
	fake := &fakeExecutor{delta: map[string]executor.Delta{
		"a": {Sources: map[string]executor.RegisteredSource{"s": {Name: "s", ConnectorType: "csv"}}},
	}}

	var seen map[string]executor.RegisteredSource
	checker := &checkerExecutor{inner: fake, onStep: func(id string, ec executor.Context) {
		if id == "b" {
			seen = ec.Sources
		}
	}}

	r := newRunner(fake)
	r.Executors = []executor.StepExecutor{checker}
	g := buildGraph(t, op("a"), op("b", "a"))

	_, err := r.Run(context.Background(), "p", g, executor.Context{})
	require.NoError(t, err)
	require.Contains(t, seen, "s")
	assert.Equal(t, "csv", seen["s"].ConnectorType)
}

type checkerExecutor struct {
	inner  *fakeExecutor
	onStep func(id string, ec executor.Context)
}

func (c *checkerExecutor) CanExecute(op *planner.Operation) bool { return true }

func (c *checkerExecutor) Execute(ctx context.Context, ec executor.Context, op *planner.Operation) (executor.StepResult, executor.Delta) {
	c.onStep(op.ID, ec)
	return c.inner.Execute(ctx, ec, op)
}

func TestNoExecutorForType(t *testing.T) {
	r := New(StrategyAuto, nil, logger.Nop())
	r.Executors = nil
	g := buildGraph(t, op("a"))

	result, err := r.Run(context.Background(), "p", g, executor.Context{})
	require.Error(t, err)
	assert.True(t, result.Failed)
	assert.Contains(t, result.Results[0].Message, "no executor")
}

func TestCancellationStopsRun(t *testing.T) {
	fake := &fakeExecutor{delay: 50 * time.Millisecond}
	r := newRunner(fake)
	g := buildGraph(t, op("a"), op("b", "a"), op("c", "b"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := r.Run(ctx, "p", g, executor.Context{})
	require.Error(t, err)
	assert.True(t, result.Cancelled)
	assert.False(t, result.Failed)
	// The later levels never execute their steps.
	assert.Less(t, len(fake.ran()), 3)

	counts := result.Counts()
	assert.Equal(t, 1, counts[executor.StatusCancelled])
	for _, res := range result.Results {
		if res.Status == executor.StatusSkipped {
			assert.Contains(t, res.Message, "cancelled")
		}
	}
}

func TestObservabilityRecordsOutcomes(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeExecutor{fail: map[string]error{"bad": boom}}
	obs := observability.NewManager(observability.Options{})
	r := New(StrategyAuto, obs, logger.Nop())
	r.Executors = []executor.StepExecutor{fake}
	r.FailFast = false
	g := buildGraph(t, op("good"), op("bad"))

	_, _ = r.Run(context.Background(), "p", g, executor.Context{})

	agg := obs.Aggregates()["transform"]
	assert.EqualValues(t, 2, agg.Calls)
	assert.EqualValues(t, 1, agg.Failures)
	require.Len(t, obs.Alerts(), 1)
}

func TestRunIDPreserved(t *testing.T) {
	fake := &fakeExecutor{}
	r := newRunner(fake)
	g := buildGraph(t, op("a"))

	result, err := r.Run(context.Background(), "p", g, executor.Context{RunID: "fixed-id"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", result.RunID)
}

func TestParseStrategy(t *testing.T) {
	for _, name := range []string{"compatibility", "auto", "memory_optimized", "speed_optimized", "hybrid"} {
		s, err := ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, Strategy(name), s)
	}

	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyAuto, s)

	_, err = ParseStrategy("ludicrous_speed")
	require.Error(t, err)
}

func TestStrategySettings(t *testing.T) {
	wide := buildGraph(t, op("a"), op("b"), op("c"), op("d"), op("e"), op("f"), op("g"))
	narrow := buildGraph(t, op("a"), op("b", "a"))

	assert.Equal(t, Settings{Workers: 1, ChunkSize: 1000}, StrategyCompatibility.Resolve(wide))
	assert.Equal(t, Settings{Workers: 2, ChunkSize: 500}, StrategyMemoryOptimized.Resolve(wide))
	assert.Equal(t, Settings{Workers: 10, ChunkSize: 2000}, StrategySpeedOptimized.Resolve(wide))
	assert.Equal(t, Settings{Workers: 6, CPUWorkers: 2, ChunkSize: 1000}, StrategyHybrid.Resolve(wide))

	// Auto tracks graph width, capped at 5.
	assert.Equal(t, 5, StrategyAuto.Resolve(wide).Workers)
	assert.Equal(t, 1, StrategyAuto.Resolve(narrow).Workers)
}

func TestCPUHeavyDetection(t *testing.T) {
	window := op("w")
	window.Transform.SQL = "SELECT id, row_number() OVER (PARTITION BY k ORDER BY ts) FROM t"
	recursive := op("r")
	recursive.Transform.SQL = "WITH RECURSIVE cte AS (SELECT 1) SELECT * FROM cte"
	cross := op("x")
	cross.Transform.SQL = "SELECT * FROM a CROSS JOIN b"
	plain := op("p")

	assert.True(t, cpuHeavy(window))
	assert.True(t, cpuHeavy(recursive))
	assert.True(t, cpuHeavy(cross))
	assert.False(t, cpuHeavy(plain))
	assert.False(t, cpuHeavy(&planner.Operation{Type: planner.OpLoad}))
}

func TestCompatibilityStrategyIsSequential(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0

	fake := &fakeExecutor{}
	tracker := &checkerExecutor{inner: fake, onStep: func(id string, ec executor.Context) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
	}}

	r := New(StrategyCompatibility, nil, logger.Nop())
	r.Executors = []executor.StepExecutor{tracker}
	g := buildGraph(t, op("a"), op("b"), op("c"), op("d"))

	_, err := r.Run(context.Background(), "p", g, executor.Context{})
	require.NoError(t, err)
	assert.Equal(t, 1, peak)
}
