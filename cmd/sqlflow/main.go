package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// Exit codes: 0 success, 1 execution failure, 2 usage or validation
// failure, 130 interrupted.
const (
	exitOK          = 0
	exitRunFailed   = 1
	exitUsage       = 2
	exitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, renderError(err))
	os.Exit(exitCode(ctx, err))
}

func exitCode(ctx context.Context, err error) int {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return exitInterrupted
	}

	var parseErr *sqlflowerrors.ParseError
	var valErr *sqlflowerrors.ValidationError
	var depErr *sqlflowerrors.DependencyError
	var buildErr *sqlflowerrors.StepBuildError
	var varErr *sqlflowerrors.VariableParsingError
	var pipeErr *sqlflowerrors.PipelineNotFoundError
	var profErr *sqlflowerrors.ProfileNotFoundError
	switch {
	case errors.As(err, &parseErr),
		errors.As(err, &valErr),
		errors.As(err, &depErr),
		errors.As(err, &buildErr),
		errors.As(err, &varErr),
		errors.As(err, &pipeErr),
		errors.As(err, &profErr):
		return exitUsage
	default:
		return exitRunFailed
	}
}
