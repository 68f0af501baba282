package main

import (
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Periodically re-analyze slugs on a cron schedule",
	Long:  "Runs until interrupted. On each tick, every slug with enough tickets and no active run is scanned again.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("watch"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		tr := initTracker(st)

		c := cron.New()
		_, err = c.AddFunc(cfg.Analysis.WatchSchedule, func() {
			slugs, err := analyzableSlugs(ctx, st)
			if err != nil {
				zap.L().Error("watch tick: list slugs", zap.Error(err))
				return
			}
			if len(slugs) == 0 {
				zap.L().Debug("watch tick: nothing to analyze")
				return
			}
			zap.L().Info("watch tick", zap.Int("slugs", len(slugs)))
			if err := analyzeSlugs(ctx, tr, slugs); err != nil {
				zap.L().Error("watch tick: analyze", zap.Error(err))
			}
		})
		if err != nil {
			return eris.Wrapf(err, "invalid watch schedule %q", cfg.Analysis.WatchSchedule)
		}

		c.Start()
		zap.L().Info("watching", zap.String("schedule", cfg.Analysis.WatchSchedule))

		<-ctx.Done()
		cronCtx := c.Stop()
		<-cronCtx.Done()
		zap.L().Info("watch stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
