package cli

import (
	"github.com/spf13/cobra"
)

var disableCmd = &cobra.Command{
	Use:   "disable <name|project_id>",
	Short: "Disable project in config.yaml",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(args[0], false)
	},
}

func init() {
	disableCmd.ValidArgsFunction = completeProjects

	rootCmd.AddCommand(disableCmd)
}
