package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [pipeline]",
		Short: "Validate pipelines without executing them",
		Long:  "Parses and plans the named pipeline, or every pipeline in the project when none is given, reporting all validation problems.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(root)
			if err != nil {
				return err
			}

			names := args
			if len(names) == 0 {
				names = env.layout.ListPipelines()
				if len(names) == 0 {
					return fmt.Errorf("no pipelines found under %s", env.layout.Root)
				}
			}

			out := cmd.OutOrStdout()
			var failures int
			var firstErr error
			for _, name := range names {
				plan, err := compilePipeline(env, name)
				if err != nil {
					failures++
					if firstErr == nil {
						firstErr = err
					}
					fmt.Fprintf(out, "%s %s\n%s\n", badMark(), name, renderError(err))
					continue
				}
				fmt.Fprintf(out, "%s %s (%d operations)\n", goodMark(), name, len(plan.Operations))
			}

			if failures > 0 {
				fmt.Fprintf(out, "\n%d of %d pipelines failed validation\n", failures, len(names))
				return firstErr
			}
			return nil
		},
	}
	return cmd
}
