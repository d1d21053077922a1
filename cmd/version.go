package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-meetings/pkg/buildinfo"
)

// NewVersionCommand creates the 'version' command.
func NewVersionCommand(deps *CommandDeps) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				return writeJSON(deps, buildinfo.Get())
			}
			_, err := fmt.Fprintf(deps.Out, "%s %s\n", buildinfo.ServiceName, buildinfo.String())
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")

	return cmd
}
