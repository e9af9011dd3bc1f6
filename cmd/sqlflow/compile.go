package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/sqlflow/internal/logger"
	"github.com/alexisbeaulieu97/sqlflow/internal/parser"
	"github.com/alexisbeaulieu97/sqlflow/internal/planner"
	"github.com/alexisbeaulieu97/sqlflow/internal/profile"
	"github.com/alexisbeaulieu97/sqlflow/internal/project"
	"github.com/alexisbeaulieu97/sqlflow/internal/vars"
)

func newCompileCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <pipeline>",
		Short: "Compile a pipeline into its operation plan artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(root)
			if err != nil {
				return err
			}
			plan, err := compilePipeline(env, args[0])
			if err != nil {
				return err
			}

			path, err := planner.WriteArtifact(env.layout.OutputDir(), plan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "compiled %s (%d operations) -> %s\n",
				plan.PipelineName, len(plan.Operations), path)
			return nil
		},
	}
	return cmd
}

// environment is everything a command needs before touching a pipeline:
// the project layout, the active profile, CLI variables, and a logger.
type environment struct {
	layout   project.Layout
	profile  *profile.Profile
	cliVars  map[string]any
	strategy vars.Strategy
	log      *logger.Logger
}

func loadEnvironment(root *rootFlags) (*environment, error) {
	level := "warn"
	if root.verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{Level: level, HumanReadable: true})
	if err != nil {
		return nil, err
	}

	strategy, err := vars.ParseStrategy(root.errorHandling)
	if err != nil {
		return nil, err
	}

	cliVars, err := parseVariables(root.variables)
	if err != nil {
		return nil, err
	}

	env := &environment{
		layout:   project.New(root.projectDir),
		cliVars:  cliVars,
		strategy: strategy,
		log:      log,
	}

	if root.profile != "" {
		path, err := env.layout.FindProfile(root.profile)
		if err != nil {
			return nil, err
		}
		prof, warnings, err := profile.Load(path)
		if err != nil {
			return nil, err
		}
		for _, w := range warnings {
			log.Warn(w)
		}
		env.profile = prof
	}
	return env, nil
}

func (env *environment) resolver() *vars.Resolver {
	var profileVars map[string]any
	if env.profile != nil {
		profileVars = env.profile.Variables
	}
	handler := vars.NewHandler(env.strategy, env.log)
	return vars.NewResolver(env.cliVars, profileVars, handler)
}

// compilePipeline resolves, parses and plans one pipeline.
func compilePipeline(env *environment, name string) (*planner.Plan, error) {
	path, err := env.layout.FindPipeline(name)
	if err != nil {
		return nil, err
	}

	pipe, err := parser.ResolveFile(path)
	if err != nil {
		return nil, err
	}

	plan, err := planner.New(env.resolver(), env.log).Plan(pipe)
	if err != nil {
		return nil, err
	}
	if err := planner.ResolveProfileConnectors(plan, env.profile); err != nil {
		return nil, err
	}
	return plan, nil
}
