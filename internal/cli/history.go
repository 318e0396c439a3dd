package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/foamrun/internal/pipeline"
	"github.com/me/foamrun/internal/store"
	"github.com/me/foamrun/pkg/model"
)

func newHistoryCmd() *cobra.Command {
	var dbPath, state string
	var limit, keep int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("history") {
				cfg.HistoryDB = dbPath
			}
			if cfg.HistoryDB == "" {
				return errors.New("no history database: set --history or history_db")
			}
			st, err := openStore(cmd.Context(), cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if cmd.Flags().Changed("keep") {
				removed, err := store.Prune(cmd.Context(), st, keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %s runs.\n", humanize.Comma(int64(removed)))
			}

			opts := model.ListOptions{Limit: limit, State: model.RunState(strings.ToUpper(state))}
			if err := opts.Validate(); err != nil {
				return err
			}
			runs, total, err := st.ListRuns(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			fmt.Fprintf(out, "%-40s  %-20s  %-10s  %-10s  %s\n", "ID", "STATE", "CD", "ELAPSED", "CREATED")
			fmt.Fprintf(out, "%-40s  %-20s  %-10s  %-10s  %s\n", "--", "-----", "--", "-------", "-------")
			for _, run := range runs {
				cd := "-"
				if run.Result != nil {
					cd = fmt.Sprintf("%.6f", run.Result.Cd)
				}
				fmt.Fprintf(out, "%-40s  %-20s  %-10s  %-10s  %s\n",
					run.ID, run.State, cd, pipeline.FormatDuration(run.Elapsed), humanize.Time(run.CreatedAt))
				if run.FailedStep != "" {
					fmt.Fprintf(out, "%-40s  failed at %s\n", "", run.FailedStep)
				}
			}
			if len(runs) < total {
				fmt.Fprintf(out, "\n(%d of %s shown)\n", len(runs), humanize.Comma(int64(total)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "history", "", "SQLite run history database (default from config)")
	cmd.Flags().StringVar(&state, "state", "", "Only show runs in this state")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	cmd.Flags().IntVar(&keep, "keep", 0, "Delete all but the newest N runs before listing")
	return cmd
}
