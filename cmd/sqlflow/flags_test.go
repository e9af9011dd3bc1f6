package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

func TestParseVariablesPairs(t *testing.T) {
	got, err := parseVariables([]string{"env=prod", "limit=10", "rate=0.5", "debug=true"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"env":   "prod",
		"limit": int64(10),
		"rate":  0.5,
		"debug": true,
	}, got)
}

func TestParseVariablesJSON(t *testing.T) {
	got, err := parseVariables([]string{`{"env":"prod","limit":10}`})
	require.NoError(t, err)
	assert.Equal(t, "prod", got["env"])
	assert.Equal(t, float64(10), got["limit"])
}

func TestParseVariablesLaterOverrides(t *testing.T) {
	got, err := parseVariables([]string{"env=dev", `{"env":"prod"}`})
	require.NoError(t, err)
	assert.Equal(t, "prod", got["env"])
}

func TestParseVariablesEmptyValue(t *testing.T) {
	got, err := parseVariables([]string{"name="})
	require.NoError(t, err)
	assert.Equal(t, "", got["name"])
}

func TestParseVariablesInvalid(t *testing.T) {
	for _, bad := range []string{"noequals", "=value", `{"unterminated`} {
		_, err := parseVariables([]string{bad})
		require.Error(t, err, bad)
		var varErr *sqlflowerrors.VariableParsingError
		assert.True(t, errors.As(err, &varErr), bad)
	}
}

func TestParseVariablesNil(t *testing.T) {
	got, err := parseVariables(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExitCodes(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, exitUsage, exitCode(ctx, sqlflowerrors.NewParseError("p.sf", 3, errors.New("x"))))
	assert.Equal(t, exitUsage, exitCode(ctx, sqlflowerrors.NewValidationError("bad", nil)))
	assert.Equal(t, exitUsage, exitCode(ctx, sqlflowerrors.NewPipelineNotFoundError("p", nil, nil)))
	assert.Equal(t, exitRunFailed, exitCode(ctx, sqlflowerrors.NewExecutionError("step", errors.New("x"))))
	assert.Equal(t, exitRunFailed, exitCode(ctx, errors.New("misc")))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Equal(t, exitInterrupted, exitCode(cancelled, errors.New("any")))
}
