package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/supportlens/supportlens/internal/analyst"
	"github.com/supportlens/supportlens/internal/model"
	"github.com/supportlens/supportlens/internal/store"
	"github.com/supportlens/supportlens/internal/ticketapi"
	"github.com/supportlens/supportlens/internal/tracker"
)

var analyzeAll bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze [slug...]",
	Short: "Run analysis scans for one or more slugs",
	Long:  "Scans the tickets behind each slug, drafts documentation recommendations via Claude, and records run progress. With --all, every slug without an active run is scanned.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}
		if len(args) == 0 && !analyzeAll {
			return eris.New("provide at least one slug, or --all")
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

		slugs := args
		if analyzeAll {
			slugs, err = analyzableSlugs(ctx, st)
			if err != nil {
				return err
			}
		}
		if len(slugs) == 0 {
			zap.L().Info("nothing to analyze")
			return nil
		}

		return analyzeSlugs(ctx, tr, slugs)
	},
}

// initTracker wires the ticket backend and the Claude analyst into a tracker.
func initTracker(st store.Store) *tracker.Tracker {
	source := ticketapi.NewClient(cfg.Tickets.BaseURL, cfg.Tickets.Key,
		ticketapi.WithPageSize(cfg.Tickets.PageSize),
		ticketapi.WithTimeout(time.Duration(cfg.Tickets.TimeoutSecs)*time.Second),
	)
	an := analyst.New(analyst.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
	return tracker.New(st, source, an, tracker.WithKBSearchRate(cfg.Analysis.KBSearchesPerSec))
}

// analyzableSlugs returns slugs worth scanning: enough tickets, and no run
// currently active.
func analyzableSlugs(ctx context.Context, st store.Store) ([]string, error) {
	all, err := st.ListSlugsWithStats(ctx, store.SlugFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "list slugs")
	}

	var out []string
	for _, s := range all {
		if s.TicketCount < cfg.Analysis.MinTicketCount {
			continue
		}
		if s.AnalysisStatus != nil && !s.AnalysisStatus.Terminal() {
			continue
		}
		out = append(out, s.Slug.Slug)
	}
	return out, nil
}

// analyzeSlugs fans runs out across slugs, bounded by the configured
// concurrency. One slug failing does not stop the others.
func analyzeSlugs(ctx context.Context, tr *tracker.Tracker, slugs []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Analysis.MaxConcurrentSlugs)

	results := make([]*model.AnalysisProgress, len(slugs))
	for i, slug := range slugs {
		g.Go(func() error {
			prog, err := tr.Run(ctx, slug)
			if err != nil {
				zap.L().Error("analysis failed", zap.String("slug", slug), zap.Error(err))
				return nil
			}
			results[i] = prog
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "analyze")
	}

	var completed int
	for _, prog := range results {
		if prog != nil && prog.Status == model.RunStatusCompleted {
			completed++
		}
	}
	zap.L().Info("analysis finished",
		zap.Int("slugs", len(slugs)),
		zap.Int("completed", completed),
		zap.Int("failed", len(slugs)-completed),
	)
	return nil
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeAll, "all", false, "analyze every slug without an active run")
	rootCmd.AddCommand(analyzeCmd)
}
