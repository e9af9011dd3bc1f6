package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd(root *rootFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the pipelines and profiles in the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(root)
			if err != nil {
				return err
			}

			pipelines := env.layout.ListPipelines()
			profiles := env.layout.ListProfiles()
			out := cmd.OutOrStdout()

			switch format {
			case "json":
				doc := map[string]any{"pipelines": pipelines, "profiles": profiles}
				encoded, err := json.MarshalIndent(doc, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(encoded))
				return nil
			case "table", "":
				fmt.Fprintln(out, renderListing("Pipelines", pipelines))
				fmt.Fprintln(out, renderListing("Profiles", profiles))
				return nil
			default:
				return fmt.Errorf("unknown format %q (want table or json)", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")
	return cmd
}
