package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// caseFlags are the per-run overrides shared by run, setup and resolve.
type caseFlags struct {
	meshDir      string
	baseDir      string
	caseDir      string
	nProc        int
	choices      []string
	chooseScript string
	history      string
	echo         bool
}

// registerResolve adds the flags that steer mesh resolution.
func (f *caseFlags) registerResolve(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.meshDir, "mesh-dir", "", "Directory holding the component meshes")
	cmd.Flags().StringArrayVar(&f.choices, "choose", nil, "Pick a candidate for an ambiguous component, NAME=IDX (1-based, repeatable)")
	cmd.Flags().StringVar(&f.chooseScript, "choose-script", "", "JavaScript expression choosing among ambiguous candidates")
}

// register adds the resolution flags plus the case and history flags.
func (f *caseFlags) register(cmd *cobra.Command, withRun bool) {
	f.registerResolve(cmd)
	cmd.Flags().StringVar(&f.baseDir, "base-dir", "", "Template case directory")
	cmd.Flags().StringVar(&f.caseDir, "case-dir", "", "Destination case directory (replaced)")
	cmd.Flags().IntVar(&f.nProc, "n-proc", 0, "Number of MPI processes")
	cmd.Flags().StringVar(&f.history, "history", "", "SQLite run history database")
	if withRun {
		cmd.Flags().BoolVar(&f.echo, "echo", false, "Copy tool output to stderr while it runs")
	}
}

// apply layers the changed flags over the loaded config.
func (f *caseFlags) apply(cmd *cobra.Command) error {
	changed := cmd.Flags().Changed
	if changed("mesh-dir") {
		cfg.MeshDir = f.meshDir
	}
	if changed("base-dir") {
		cfg.BaseDir = f.baseDir
	}
	if changed("case-dir") {
		cfg.CaseDir = f.caseDir
	}
	if changed("n-proc") {
		cfg.NProc = f.nProc
	}
	if changed("history") {
		cfg.HistoryDB = f.history
	}
	if changed("echo") {
		cfg.EchoToolOutput = f.echo
	}
	if changed("choose-script") {
		cfg.Disambiguate.Script = f.chooseScript
	}
	if len(f.choices) > 0 {
		picks, err := parseChoices(f.choices)
		if err != nil {
			return err
		}
		if cfg.Disambiguate.Choices == nil {
			cfg.Disambiguate.Choices = make(map[string]int, len(picks))
		}
		for name, idx := range picks {
			cfg.Disambiguate.Choices[name] = idx
		}
	}
	if cfg.MeshDir == "" {
		return fmt.Errorf("--mesh-dir is required")
	}
	return nil
}

// parseChoices parses NAME=IDX pairs.
func parseChoices(pairs []string) (map[string]int, error) {
	out := make(map[string]int, len(pairs))
	for _, p := range pairs {
		name, idx, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --choose %q: want NAME=IDX", p)
		}
		n, err := strconv.Atoi(idx)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid --choose %q: index must be a positive integer", p)
		}
		out[name] = n
	}
	return out, nil
}
