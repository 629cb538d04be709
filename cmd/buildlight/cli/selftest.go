package cli

import (
	"context"
	"time"

	"github.com/davarch/buildlight/internal/application"
	"github.com/davarch/buildlight/internal/domain"
	"github.com/davarch/buildlight/internal/infrastructure/config"
	"github.com/davarch/buildlight/internal/infrastructure/indicator"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var selftestStep time.Duration

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Light every configured output in turn and pulse the buzzers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		cfg, err := config.Load(cfgPath())
		if err != nil {
			return err
		}

		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		projects, err := cfg.Enabled()
		if err != nil {
			return err
		}

		ind, err := indicator.Open(cfg.Indicator.Driver, cfg.Indicator.Port, log.Named("indicator"))
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, ind.Close()) }()

		ctx := cmd.Context()
		sleep := func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		}

		for _, p := range projects {
			log.Info("selftest", zap.String("project", p.Label()))
			for _, c := range []domain.Color{domain.Green, domain.Yellow, domain.Red} {
				if err := ind.AllOff(p.Outputs.Colors()); err != nil {
					return err
				}
				if err := ind.SetOutput(p.Outputs.Color(c), true); err != nil {
					return err
				}
				sleep(ctx, selftestStep)
			}
			if err := application.Pulse(ctx, ind, p.Outputs.Buzzer, 1, 100*time.Millisecond, sleep); err != nil {
				return err
			}
			if err := ind.AllOff(p.Outputs.All()); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return nil
	},
}

func init() {
	selftestCmd.Flags().DurationVar(&selftestStep, "step", 500*time.Millisecond, "how long each colour stays lit")

	rootCmd.AddCommand(selftestCmd)
}
