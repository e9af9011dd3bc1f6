package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorAggregates(t *testing.T) {
	err := &ValidationError{
		MissingVariables: []string{"env", "region"},
		MissingTables:    []string{"raw_orders"},
	}
	require.Contains(t, err.Error(), "missing variables: env, region")
	require.Contains(t, err.Error(), "missing tables: raw_orders")
}

func TestDependencyErrorCycles(t *testing.T) {
	err := NewCycleError([][]string{{"a", "b", "a"}})
	var depErr *DependencyError
	require.True(t, errors.As(err, &depErr))
	require.Equal(t, [][]string{{"a", "b", "a"}}, depErr.Cycles)
	require.Contains(t, err.Error(), "a -> b -> a")
}

func TestExecutionErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := NewExecutionError("load_raw_orders", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "load_raw_orders")
}

func TestConnectorErrorRetryable(t *testing.T) {
	err := NewConnectorError("postgres", "read", true, fmt.Errorf("timeout"))
	var connErr *ConnectorError
	require.True(t, errors.As(err, &connErr))
	require.True(t, connErr.Retryable)

	var execErr *ExecutionError
	wrapped := NewExecutionError("load_users", err)
	require.True(t, errors.As(wrapped, &execErr))
	require.True(t, errors.As(wrapped, &connErr))
}

func TestStepBuildError(t *testing.T) {
	err := NewStepBuildError([]StepFailure{{StepID: "transform_sales", Reason: "bad mode"}})
	require.Contains(t, err.Error(), "transform_sales: bad mode")
}
