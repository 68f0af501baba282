package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/supportlens/supportlens/internal/model"
	"github.com/supportlens/supportlens/internal/store"
)

var (
	exportOutPath string
	exportSlug    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recommendations to an XLSX workbook",
	Long:  "Writes all recommendations to a workbook with one sheet per priority, for review outside the dashboard.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
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

		count, err := exportRecommendations(ctx, st, exportSlug, exportOutPath)
		if err != nil {
			return eris.Wrap(err, "export recommendations")
		}

		zap.L().Info("export complete",
			zap.Int("recommendations", count),
			zap.String("file", exportOutPath),
		)
		return nil
	},
}

// exportRecommendations writes one sheet per priority, highest first.
func exportRecommendations(ctx context.Context, st store.Store, slug, outPath string) (int, error) {
	f := xlsx.NewFile()
	total := 0

	for _, priority := range []model.Priority{model.PriorityHigh, model.PriorityMedium, model.PriorityLow} {
		recs, err := st.ListRecommendations(ctx, store.RecommendationFilter{
			Slug:     slug,
			Priority: priority,
			Limit:    10000,
		})
		if err != nil {
			return 0, eris.Wrapf(err, "list %s recommendations", priority)
		}

		sheet, err := f.AddSheet(string(priority))
		if err != nil {
			return 0, eris.Wrapf(err, "add sheet %s", priority)
		}

		header := sheet.AddRow()
		for _, h := range []string{"Slug", "Title", "Status", "Confidence", "Ticket Pattern", "Created", "Last Analyzed"} {
			header.AddCell().SetString(h)
		}

		for _, rec := range recs {
			row := sheet.AddRow()
			row.AddCell().SetString(rec.Slug)
			row.AddCell().SetString(rec.Title)
			row.AddCell().SetString(rec.Status)
			row.AddCell().SetString(fmt.Sprintf("%.2f", rec.ConfidenceScore))
			pattern := ""
			if rec.TicketPattern != nil {
				pattern = *rec.TicketPattern
			}
			row.AddCell().SetString(pattern)
			row.AddCell().SetString(rec.CreatedAt.Format("2006-01-02"))
			analyzed := ""
			if rec.LastAnalyzed != nil {
				analyzed = rec.LastAnalyzed.Format("2006-01-02")
			}
			row.AddCell().SetString(analyzed)
		}
		total += len(recs)
	}

	if err := f.Save(outPath); err != nil {
		return 0, eris.Wrap(err, "save workbook")
	}
	return total, nil
}

func init() {
	exportCmd.Flags().StringVar(&exportOutPath, "out", "recommendations.xlsx", "output workbook path")
	exportCmd.Flags().StringVar(&exportSlug, "slug", "", "restrict to one slug")
	rootCmd.AddCommand(exportCmd)
}
