package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand creates the penf-meetings root command with all subcommands.
func NewRootCommand(deps *CommandDeps) *cobra.Command {
	var (
		cfgFile string
		debug   bool
	)

	root := &cobra.Command{
		Use:   "penf-meetings",
		Short: "Meeting recording processing service",
		Long: `penf-meetings turns meeting recordings into transcripts, summaries and
speaker-labelled transcripts, and notifies the user when a meeting is ready.

Configuration is read from ~/.penf-meetings/config.yaml (or --config), then
PENF_MEETINGS_* environment variables. API keys come from OPENAI_API_KEY and
EXPO_ACCESS_TOKEN or the system keyring.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				if err := os.Setenv("PENF_MEETINGS_CONFIG", cfgFile); err != nil {
					return err
				}
			}
			if debug {
				if err := os.Setenv("PENF_MEETINGS_DEBUG", "true"); err != nil {
					return err
				}
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.penf-meetings/config.yaml)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddGroup(
		&cobra.Group{ID: "service", Title: "Service:"},
		&cobra.Group{ID: "meetings", Title: "Meetings:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	add := func(group string, c *cobra.Command) {
		c.GroupID = group
		root.AddCommand(c)
	}
	add("service", NewServeCommand(deps))
	add("service", NewMigrateCommand(deps))
	add("meetings", NewProcessCommand(deps))
	add("meetings", NewDiarizeCommand(deps))
	add("setup", NewSecretsCommand(deps))
	add("setup", NewVersionCommand(deps))

	return root
}
