package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	projectDir    string
	profile       string
	variables     []string
	errorHandling string
	verbose       bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "sqlflow",
		Short:         "sqlflow compiles and runs declarative SQL data pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.projectDir, "project-dir", "d", ".", "Project directory holding pipelines/ and profiles/")
	cmd.PersistentFlags().StringVarP(&flags.profile, "profile", "p", "", "Profile name to activate")
	cmd.PersistentFlags().StringArrayVar(&flags.variables, "var", nil, "Pipeline variable as name=value or a JSON object (repeatable)")
	cmd.PersistentFlags().StringVar(&flags.errorHandling, "error-handling", "fail_fast", "Missing-variable strategy: fail_fast, warn_continue, ignore or collect_report")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(newCompileCmd(flags))
	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newValidateCmd(flags))
	cmd.AddCommand(newListCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
