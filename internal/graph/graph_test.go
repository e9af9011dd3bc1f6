package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/sqlflow/internal/planner"
	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

func op(id string, deps ...string) *planner.Operation {
	return &planner.Operation{
		ID:        id,
		Type:      planner.OpTransform,
		Name:      id,
		DependsOn: deps,
		Transform: &planner.TransformSpec{TargetTable: id, SQL: "SELECT 1"},
	}
}

func build(t *testing.T, ops ...*planner.Operation) *Graph {
	t.Helper()
	g, err := Build(&planner.Plan{PipelineName: "test", Operations: ops})
	require.NoError(t, err)
	return g
}

func TestTopologicalLevels(t *testing.T) {
	g := build(t,
		op("a"),
		op("b", "a"),
		op("c", "a"),
		op("d", "b", "c"),
	)

	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, g.TopologicalLevels())
}

func TestLevelsAreDeterministic(t *testing.T) {
	ops := []*planner.Operation{op("z"), op("m"), op("a")}
	for i := 0; i < 10; i++ {
		g := build(t, ops...)
		assert.Equal(t, [][]string{{"a", "m", "z"}}, g.TopologicalLevels())
	}
}

func TestCycleDetection(t *testing.T) {
	_, err := Build(&planner.Plan{PipelineName: "test", Operations: []*planner.Operation{
		op("a", "c"),
		op("b", "a"),
		op("c", "b"),
		op("ok"),
	}})
	require.Error(t, err)

	var depErr *sqlflowerrors.DependencyError
	require.True(t, errors.As(err, &depErr))
	require.Len(t, depErr.Cycles, 1)
	cycle := depErr.Cycles[0]
	// Closed path: first and last element match.
	require.GreaterOrEqual(t, len(cycle), 4)
	assert.Equal(t, cycle[0], cycle[len(cycle)-1])
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycle[:len(cycle)-1])
}

func TestMissingDependency(t *testing.T) {
	_, err := Build(&planner.Plan{PipelineName: "test", Operations: []*planner.Operation{
		op("a", "ghost"),
	}})
	require.Error(t, err)

	var depErr *sqlflowerrors.DependencyError
	require.True(t, errors.As(err, &depErr))
	assert.Equal(t, []string{"a -> ghost"}, depErr.MissingDependencies)
}

func TestExecutableSteps(t *testing.T) {
	g := build(t,
		op("a"),
		op("b", "a"),
		op("c", "a"),
		op("d", "b", "c"),
	)

	assert.Equal(t, []string{"a"}, g.ExecutableSteps(map[string]bool{}))
	assert.Equal(t, []string{"b", "c"}, g.ExecutableSteps(map[string]bool{"a": true}))
	assert.Equal(t, []string{"c"}, g.ExecutableSteps(map[string]bool{"a": true, "b": true}))
	assert.Equal(t, []string{"d"}, g.ExecutableSteps(map[string]bool{"a": true, "b": true, "c": true}))
	assert.Empty(t, g.ExecutableSteps(map[string]bool{"a": true, "b": true, "c": true, "d": true}))
}

func TestReverseDependencies(t *testing.T) {
	g := build(t,
		op("a"),
		op("b", "a"),
		op("c", "a"),
		op("d", "b"),
	)

	rev := g.ReverseDependencies()
	assert.Equal(t, []string{"b", "c"}, rev["a"])
	assert.Equal(t, []string{"d"}, rev["b"])
	assert.Empty(t, rev["d"])
}

func TestDescendants(t *testing.T) {
	g := build(t,
		op("a"),
		op("b", "a"),
		op("c", "b"),
		op("d", "b"),
		op("e"),
	)

	assert.Equal(t, []string{"b", "c", "d"}, g.Descendants("a"))
	assert.Equal(t, []string{"c", "d"}, g.Descendants("b"))
	assert.Empty(t, g.Descendants("e"))
	assert.Empty(t, g.Descendants("unknown"))
}

func TestCriticalPath(t *testing.T) {
	g := build(t,
		op("a"),
		op("b", "a"),
		op("c", "b"),
		op("side", "a"),
	)

	assert.Equal(t, []string{"a", "b", "c"}, g.CriticalPath())
}

func TestCriticalPathSingleNode(t *testing.T) {
	g := build(t, op("only"))
	assert.Equal(t, []string{"only"}, g.CriticalPath())
}

func TestOperationsPreservePlanOrder(t *testing.T) {
	g := build(t, op("z"), op("a", "z"), op("m", "z"))
	ids := make([]string, 0, g.Size())
	for _, o := range g.Operations() {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"z", "a", "m"}, ids)
}
