package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/me/foamrun/internal/caserunner"
	"github.com/me/foamrun/internal/pipeline"
	"github.com/me/foamrun/internal/results"
	"github.com/me/foamrun/internal/store"
	"github.com/me/foamrun/pkg/model"
)

func newRunCmd() *cobra.Command {
	var flags caseFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Assemble the case, run the pipeline and extract the coefficients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, &flags, false)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newSetupCmd() *cobra.Command {
	var flags caseFlags
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Resolve the meshes and assemble the case without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, &flags, true)
		},
	}
	flags.register(cmd, false)
	return cmd
}

func executeRun(cmd *cobra.Command, flags *caseFlags, setupOnly bool) error {
	if err := flags.apply(cmd); err != nil {
		return err
	}

	var opts []caserunner.Option
	if cfg.EchoToolOutput {
		opts = append(opts, caserunner.WithEcho(cmd.ErrOrStderr()))
	}
	if cfg.HistoryDB != "" {
		st, err := openStore(cmd.Context(), cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, caserunner.WithStore(st))
	}

	runner, err := caserunner.New(cfg, logger, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, runErr := runner.Execute(ctx, caserunner.Request{MeshDir: cfg.MeshDir, SetupOnly: setupOnly})
	printRun(cmd.OutOrStdout(), run, setupOnly)
	if runErr != nil {
		return fmt.Errorf("run %s failed at %s: %w", run.ID, run.FailedStep, runErr)
	}
	return nil
}

func printRun(w io.Writer, run *model.Run, setupOnly bool) {
	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Case:     %s\n", run.CaseDir)
	fmt.Fprintf(w, "State:    %s\n", run.State)
	for _, g := range run.Geometry {
		fmt.Fprintf(w, "Origin:   %-8s %s\n", g.Component, g.Centroid.OriginLiteral())
	}
	for _, warn := range run.Warnings {
		fmt.Fprintf(w, "Warning:  %s\n", warn)
	}
	if setupOnly {
		return
	}
	if len(run.Stages) > 0 {
		pipeline.PrintSummary(w, &pipeline.Report{Stages: run.Stages, Elapsed: run.PipelineElapsed})
	}
	if run.Result != nil {
		fmt.Fprintln(w)
		results.Print(w, run.Result)
		if run.ReportPath != "" {
			fmt.Fprintf(w, "Results saved to: %s\n", run.ReportPath)
		}
	}
}

// openStore opens and migrates the run history database.
func openStore(ctx context.Context, path string) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return st, nil
}
