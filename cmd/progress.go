package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/supportlens/supportlens/internal/model"
	"github.com/supportlens/supportlens/internal/store"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Inspect analysis run history",
	Long:  "Commands for listing, viewing and restarting slug analysis runs.",
}

// -- progress list --

var progressListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		slug, _ := cmd.Flags().GetString("slug")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.ProgressFilter{
			Slug:   slug,
			Status: model.RunStatus(status),
			Limit:  limit,
		}
		if filter.Status != "" && !filter.Status.Valid() {
			return eris.Errorf("invalid status %q", status)
		}

		runs, err := st.ListProgress(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "progress list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatProgressList(os.Stdout, runs)
		return nil
	},
}

// -- progress show --

var progressShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		prog, err := st.GetProgress(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "progress show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(prog)
	},
}

// -- progress restart --

var progressRestartCmd = &cobra.Command{
	Use:   "restart <slug>",
	Short: "Start a fresh analysis run for a slug whose last run finished",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("analyze"); err != nil {
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
		slug := model.NormalizeSlug(args[0])

		prog, err := tr.Restart(ctx, slug)
		if err != nil {
			return eris.Wrapf(err, "progress restart %s", slug)
		}

		formatProgressList(os.Stdout, []model.AnalysisProgress{*prog})
		return nil
	},
}

func init() {
	progressListCmd.Flags().String("slug", "", "filter by slug")
	progressListCmd.Flags().String("status", "", "filter by run status (pending, running, completed, failed)")
	progressListCmd.Flags().Int("limit", 50, "max number of runs to display")

	progressCmd.AddCommand(progressListCmd)
	progressCmd.AddCommand(progressShowCmd)
	progressCmd.AddCommand(progressRestartCmd)
	rootCmd.AddCommand(progressCmd)
}

// formatProgressList writes a tabular list of runs to w.
func formatProgressList(out io.Writer, runs []model.AnalysisProgress) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSLUG\tSTATUS\tANALYZED\tKB\tSTARTED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t--------\t--\t-------\t-----")

	for _, p := range runs {
		analyzed := fmt.Sprintf("%d/?", p.TicketsAnalyzed)
		if p.TotalTickets != nil {
			analyzed = fmt.Sprintf("%d/%d", p.TicketsAnalyzed, *p.TotalTickets)
		}

		started := ""
		if p.StartedAt != nil {
			started = p.StartedAt.Format("2006-01-02 15:04")
		}

		errMsg := ""
		if p.ErrorMessage != nil {
			errMsg = *p.ErrorMessage
			if len(errMsg) > 40 {
				errMsg = errMsg[:37] + "..."
			}
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(p.ID),
			p.Slug,
			p.Status,
			analyzed,
			p.KBSearchesPerformed,
			started,
			errMsg,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
