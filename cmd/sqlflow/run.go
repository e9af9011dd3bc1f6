package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/sqlflow/internal/connector"
	"github.com/alexisbeaulieu97/sqlflow/internal/engine"
	"github.com/alexisbeaulieu97/sqlflow/internal/executor"
	"github.com/alexisbeaulieu97/sqlflow/internal/graph"
	"github.com/alexisbeaulieu97/sqlflow/internal/observability"
	"github.com/alexisbeaulieu97/sqlflow/internal/runner"
)

type runOptions struct {
	strategy      string
	engineName    string
	metricsListen string
}

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Compile and execute a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, err := runner.ParseStrategy(opts.strategy)
			if err != nil {
				return err
			}

			env, err := loadEnvironment(root)
			if err != nil {
				return err
			}
			plan, err := compilePipeline(env, args[0])
			if err != nil {
				return err
			}
			g, err := graph.Build(plan)
			if err != nil {
				return err
			}

			var metrics *observability.Metrics
			if opts.metricsListen != "" {
				registry := prometheus.NewRegistry()
				metrics = observability.NewMetrics(registry)
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				server := &http.Server{Addr: opts.metricsListen, Handler: mux}
				go func() {
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						env.log.Error(err, "metrics endpoint failed")
					}
				}()
				defer server.Close()
			}
			obs := observability.NewManager(observability.Options{Metrics: metrics})

			engineOpts := engine.Options{Mode: engine.ModeMemory}
			if env.profile != nil {
				cfg := env.profile.EngineConfig(opts.engineName)
				engineOpts = engine.Options{Mode: engine.Mode(cfg.Mode), Path: cfg.Path}
				if engineOpts.Mode == "" {
					engineOpts.Mode = engine.ModeMemory
				}
			}
			eng, err := engine.Open(engineOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			r := runner.New(strategy, obs, env.log)
			ec := executor.Context{
				Engine:   eng,
				Registry: connector.NewRegistry(),
				Sources:  map[string]executor.RegisteredSource{},
				Log:      env.log,
			}

			result, runErr := r.Run(cmd.Context(), plan.PipelineName, g, ec)
			printRunSummary(cmd, result)

			if root.verbose {
				if report := renderObsReport(obs); report != "" {
					fmt.Fprintln(cmd.OutOrStdout(), report)
				}
			}
			if health := obs.CheckSystemHealth(); health.Status != "healthy" {
				fmt.Fprintf(cmd.OutOrStdout(), "run health: %s (%d/%d steps failed)\n",
					health.Status, health.FailedSteps, health.TotalSteps)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&opts.strategy, "strategy", "auto", "Execution strategy: compatibility, auto, memory_optimized, speed_optimized or hybrid")
	cmd.Flags().StringVar(&opts.engineName, "engine", "default", "Named engine from the profile")
	cmd.Flags().StringVar(&opts.metricsListen, "metrics-listen", "", "Serve prometheus metrics on this address during the run (e.g. :9090)")
	return cmd
}

func printRunSummary(cmd *cobra.Command, result *runner.RunResult) {
	if result == nil {
		return
	}
	out := cmd.OutOrStdout()

	for _, res := range result.Results {
		fmt.Fprintln(out, renderStepResult(res))
	}

	counts := result.Counts()
	summary := fmt.Sprintf("%s: %d succeeded, %d failed, %d skipped",
		result.PipelineName,
		counts[executor.StatusSuccess],
		counts[executor.StatusError],
		counts[executor.StatusSkipped])
	if n := counts[executor.StatusCancelled]; n > 0 {
		summary += fmt.Sprintf(", %d cancelled", n)
	}
	fmt.Fprintf(out, "\n%s in %s\n", summary, result.Duration.Round(time.Millisecond))
}
