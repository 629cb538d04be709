package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/davarch/buildlight/internal/infrastructure/config"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	listOnlyEnabled  bool
	listOnlyDisabled bool
	listJSON         bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects from config.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath())
		if err != nil {
			return err
		}

		items := make([]config.Project, 0, len(cfg.Poll.Projects))
		for _, p := range cfg.Poll.Projects {
			if listOnlyEnabled && !p.Enabled {
				continue
			}
			if listOnlyDisabled && p.Enabled {
				continue
			}
			items = append(items, p)
		}

		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"NAME", "PROJECT_ID", "REF", "ENABLED", "RED", "GREEN", "YELLOW", "BUZZER"})
		for _, p := range items {
			name := p.Name
			if name == "" {
				name = "(unnamed)"
			}
			outs := p.Outputs.Resolve()
			t.AppendRow(table.Row{name, p.ProjectID, p.Ref, p.Enabled, outs.Red, outs.Green, outs.Yellow, outs.Buzzer})
		}
		t.Render()
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listOnlyEnabled, "enabled", false, "show only enabled projects")
	listCmd.Flags().BoolVar(&listOnlyDisabled, "disabled", false, "show only disabled projects")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")

	listCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if listOnlyEnabled && listOnlyDisabled {
			return fmt.Errorf("flags --enabled and --disabled are mutually exclusive")
		}
		return nil
	}

	rootCmd.AddCommand(listCmd)
}
