package cli

import (
	"encoding/json"
	"os"
	"time"

	"github.com/davarch/buildlight/internal/infrastructure/cache_fs"
	"github.com/davarch/buildlight/internal/infrastructure/config"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last known status written by the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath())
		if err != nil {
			return err
		}

		doc, err := cache_fs.Read(cfg.Cache.Path)
		if err != nil {
			return err
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.SetTitle(doc.Text)
		t.AppendHeader(table.Row{"NAME", "REF", "STATUS", "PREVIOUS", "PIPELINE", "SHA", "AUTHOR", "CHECKED"})
		for _, e := range doc.Projects {
			st := e.Status
			if e.Error {
				st = "error"
			}
			t.AppendRow(table.Row{
				e.Name, e.Ref, colorize(st), e.PreviousStatus, e.Pipeline, e.SHA, e.Author,
				time.Unix(e.Retrieved, 0).Format(time.DateTime),
			})
		}
		t.Render()
		return nil
	},
}

func colorize(status string) string {
	switch status {
	case "success":
		return text.FgGreen.Sprint(status)
	case "failed", "error":
		return text.FgRed.Sprint(status)
	default:
		return text.FgYellow.Sprint(status)
	}
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON")

	rootCmd.AddCommand(statusCmd)
}
