package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/me/foamrun/internal/results"
	"github.com/me/foamrun/pkg/model"
)

func newResultsCmd() *cobra.Command {
	var caseDir string
	var asJSON, watch bool
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Print the latest force coefficients of a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("case-dir") {
				cfg.CaseDir = caseDir
			}
			ex := results.NewExtractor(cfg.Layout.ResultFile, logger)
			out := cmd.OutOrStdout()

			if watch {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return ex.Watch(ctx, cfg.CaseDir, func(s *model.CoefficientSample) {
					fmt.Fprintf(out, "%-12g Cd=%.6f Cl=%.6f Cm=%.6f\n", s.Time, s.Cd, s.Cl, s.Cm)
				})
			}

			sample, err := ex.Latest(cfg.CaseDir)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sample)
			}
			results.Print(out, sample)
			return nil
		},
	}
	cmd.Flags().StringVar(&caseDir, "case-dir", "", "Case directory (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the sample as JSON")
	cmd.Flags().BoolVar(&watch, "watch", false, "Follow the table while the solver writes it")
	return cmd
}
