package pipeline

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/me/foamrun/internal/config"
)

// Stage names of the default sequence.
const (
	StageBackgroundMesh = "blockMesh"
	StageFeatureExtract = "surfaceFeatureExtract"
	StageSurfaceMesh    = "snappyHexMesh"
	StageDecompose      = "decomposePar"
	StageSolve          = "solve"
	StageReconstruct    = "reconstructPar"
)

// DefaultStages returns the fixed meshing and solving sequence for caseDir:
// background mesh, per-component feature extraction (static components
// first, then movable ones), surface-snapped mesh, decomposition into nProc
// subdomains, the parallel solve and reconstruction. Every tool receives the
// absolute case path and writes its output to log.<tool>[.<component>].
func DefaultStages(cfg config.Config, caseDir string, nProc int) ([]Stage, error) {
	if nProc < 1 {
		return nil, fmt.Errorf("processor count must be at least 1, got %d", nProc)
	}
	abs, err := filepath.Abs(caseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve case dir: %w", err)
	}
	t := cfg.Tools

	single := func(name, tool string, args ...string) Stage {
		argv := append([]string{tool}, args...)
		return Stage{
			Name:        name,
			Invocations: []Invocation{{Label: name, Argv: argv, LogName: "log." + filepath.Base(tool)}},
		}
	}

	extract := Stage{Name: StageFeatureExtract}
	for _, name := range FeatureOrder(cfg) {
		extract.Invocations = append(extract.Invocations, Invocation{
			Label:   name,
			Argv:    []string{t.SurfaceFeatureExtract, "-case", abs, "-dict", cfg.FeatureDict(name)},
			LogName: "log." + filepath.Base(t.SurfaceFeatureExtract) + "." + name,
		})
	}

	solve := []string{t.Launcher}
	solve = append(solve, t.LauncherArgs...)
	solve = append(solve, "-np", strconv.Itoa(nProc), t.Solver, "-case", abs, "-parallel")
	solveStage := Stage{
		Name:        StageSolve,
		Invocations: []Invocation{{Label: filepath.Base(t.Solver), Argv: solve, LogName: "log." + filepath.Base(t.Solver)}},
	}

	return []Stage{
		single(StageBackgroundMesh, t.BlockMesh, "-case", abs),
		extract,
		single(StageSurfaceMesh, t.SnappyHexMesh, "-overwrite", "-case", abs),
		single(StageDecompose, t.DecomposePar, "-force", "-case", abs),
		solveStage,
		single(StageReconstruct, t.ReconstructPar, "-case", abs),
	}, nil
}

// FeatureOrder lists the components in feature extraction order: static
// components, then movable ones, each group in configured order.
func FeatureOrder(cfg config.Config) []string {
	var static, movable []string
	for _, name := range cfg.Components {
		if cfg.IsMovable(name) {
			movable = append(movable, name)
		} else {
			static = append(static, name)
		}
	}
	return append(static, movable...)
}
