package cli

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/davarch/buildlight/internal/application"
	"github.com/davarch/buildlight/internal/domain"
	"github.com/davarch/buildlight/internal/infrastructure/cache_fs"
	"github.com/davarch/buildlight/internal/infrastructure/config"
	"github.com/davarch/buildlight/internal/infrastructure/gitlab_http"
	"github.com/davarch/buildlight/internal/infrastructure/indicator"
	"github.com/davarch/buildlight/internal/infrastructure/notify_libnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run [interval-seconds]",
	Short: "Run the polling daemon",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath())
		if err != nil {
			return err
		}

		var override time.Duration
		if len(args) == 1 {
			if override, err = config.ParseInterval(args[0]); err != nil {
				return err
			}
			cfg.Poll.Interval = override
		}

		mode, err := application.ParseMode(cfg.Poll.Mode)
		if err != nil {
			return err
		}

		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ind, err := indicator.Open(cfg.Indicator.Driver, cfg.Indicator.Port, log.Named("indicator"))
		if err != nil {
			log.Fatal("indicator", zap.Error(err))
		}

		var cache domain.StatusCache
		if cfg.Cache.Path != "" {
			cache = cache_fs.New(cfg.Cache.Path)
		}

		trackers, err := buildTrackers(cfg, ind, cache, log)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}
		if len(trackers) == 0 {
			log.Fatal("no enabled projects")
		}

		sched := application.NewScheduler(log.Named("scheduler"), ind, trackers, cfg.Poll.Interval, mode, cfg.Poll.PauseFile)

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		err = config.Watch(ctx, cfgPath(), log.Named("config"), func(next config.Config) {
			ts, err := buildTrackers(next, ind, cache, log)
			if err != nil {
				log.Warn("config reload rejected", zap.Error(err))
				return
			}
			if len(ts) == 0 {
				log.Warn("config reload: no enabled projects")
			}
			sched.UpdateTrackers(ts)
			if override == 0 {
				sched.SetInterval(next.Poll.Interval)
			}
		})
		if err != nil {
			log.Warn("config watch disabled", zap.Error(err))
		}

		log.Info("start",
			zap.String("version", version),
			zap.Int("projects", len(trackers)),
			zap.Duration("every", cfg.Poll.Interval),
			zap.String("mode", string(mode)),
			zap.String("indicator", cfg.Indicator.Driver),
			zap.String("cache", cfg.Cache.Path),
			zap.String("gitlab", cfg.GitLab.BaseURL),
			zap.String("pause_file", cfg.Poll.PauseFile),
		)

		if err := sched.Run(ctx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
		log.Info("bye")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func buildTrackers(cfg config.Config, ind domain.Indicator, cache domain.StatusCache, log *zap.Logger) ([]*application.Tracker, error) {
	projects, err := cfg.Enabled()
	if err != nil {
		return nil, err
	}

	gl := gitlab_http.New(cfg.GitLab.BaseURL, cfg.GitLab.Token, cfg.GitLab.Timeout,
		gitlab_http.WithLogger(log.Named("gitlab")),
		gitlab_http.WithRetry(cfg.Retry.Attempts, cfg.Retry.Delay),
	)

	opts := []application.TrackerOption{application.WithOnlyRedGreen(cfg.Display.OnlyRedGreen)}
	if cache != nil {
		opts = append(opts, application.WithCache(cache))
	}
	if cfg.Notify.Enabled {
		opts = append(opts, application.WithNotifier(notify_libnotify.NewSoft().WithExpire(10*time.Second)))
	}

	trackers := make([]*application.Tracker, 0, len(projects))
	for _, p := range projects {
		trackers = append(trackers, application.NewTracker(p, gl.ForProject(p.Ref), ind, log.Named("tracker"), opts...))
	}
	return trackers, nil
}
