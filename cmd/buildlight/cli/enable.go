package cli

import (
	"fmt"
	"strings"

	"github.com/davarch/buildlight/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var enableCmd = &cobra.Command{
	Use:   "enable <name|project_id>",
	Short: "Enable project in config.yaml",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(args[0], true)
	},
}

func init() {
	enableCmd.ValidArgsFunction = completeProjects

	rootCmd.AddCommand(enableCmd)
}

// setEnabled flips every project whose name or project_id matches.
func setEnabled(key string, on bool) error {
	cfg, err := config.Load(cfgPath())
	if err != nil {
		return err
	}

	verb := "enabled"
	if !on {
		verb = "disabled"
	}

	changed := false
	for i := range cfg.Poll.Projects {
		p := &cfg.Poll.Projects[i]
		if p.Name != key && p.ProjectID != key {
			continue
		}
		if p.Enabled != on {
			p.Enabled = on
			changed = true
		}
	}

	if !changed {
		fmt.Printf("no change (project %q already %s or not found)\n", key, verb)
		return nil
	}

	if err := config.Save(cfgPath(), cfg); err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", verb, key)
	return nil
}

func completeProjects(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := config.Load(cfgPath())
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	out := make([]string, 0, len(cfg.Poll.Projects))
	for _, p := range cfg.Poll.Projects {
		key := p.Name
		if key == "" {
			key = p.ProjectID
		}
		if strings.HasPrefix(key, toComplete) {
			out = append(out, key)
		}
	}

	return out, cobra.ShellCompDirectiveNoFileComp
}
