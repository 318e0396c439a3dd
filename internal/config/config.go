// Package config holds the run configuration shared by every foamrun component.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/foamrun/pkg/model"
)

// Config is built once per process (defaults, then an optional YAML file,
// then CLI flags) and passed by value to each component.
type Config struct {
	BaseDir string `yaml:"base_dir"` // Template case (default "./baseCase")
	CaseDir string `yaml:"case_dir"` // Destination case (default "./case")
	MeshDir string `yaml:"mesh_dir"` // Directory holding the input STL files
	NProc   int    `yaml:"n_proc"`   // MPI process count (default 6)

	MeshExt    string   `yaml:"mesh_ext"`    // Mesh file extension (default ".stl")
	Components []string `yaml:"components"`  // Canonical component names
	Movable    []string `yaml:"movable"`     // Components with a rotating wall origin
	MotionType string   `yaml:"motion_type"` // Boundary type marking movable blocks

	Layout         Layout        `yaml:"layout"`
	Tools          Tools         `yaml:"tools"`
	Container      Container     `yaml:"container"`
	Disambiguate   Disambiguate  `yaml:"disambiguate"`
	StageTimeout   time.Duration `yaml:"stage_timeout"` // 0 disables the per-stage limit
	KillGrace      time.Duration `yaml:"kill_grace"`    // Interrupt-to-kill delay on cancellation
	EchoToolOutput bool          `yaml:"echo_tool_output"`

	HistoryDB string `yaml:"history_db"` // SQLite path; empty disables run history
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
}

// Layout locates files inside a case directory. All paths are relative to
// the case root.
type Layout struct {
	MeshDir        string `yaml:"mesh_dir"`
	VelocityFile   string `yaml:"velocity_file"`
	DecomposeDict  string `yaml:"decompose_dict"`
	FeatureDictFmt string `yaml:"feature_dict_fmt"` // %s is replaced by the component name
	ResultFile     string `yaml:"result_file"`
	ReportFile     string `yaml:"report_file"`
	SubdomainsKey  string `yaml:"subdomains_key"`
	OriginKey      string `yaml:"origin_key"`
}

// Tools names the external executables invoked by the pipeline.
type Tools struct {
	BlockMesh             string   `yaml:"block_mesh"`
	SurfaceFeatureExtract string   `yaml:"surface_feature_extract"`
	SnappyHexMesh         string   `yaml:"snappy_hex_mesh"`
	DecomposePar          string   `yaml:"decompose_par"`
	Solver                string   `yaml:"solver"`
	ReconstructPar        string   `yaml:"reconstruct_par"`
	Launcher              string   `yaml:"launcher"`
	LauncherArgs          []string `yaml:"launcher_args"`
}

// Container selects where the tools run. The case directory is mounted
// at its host path.
type Container struct {
	Runtime string            `yaml:"runtime"` // local (default), docker, apptainer
	Image   string            `yaml:"image"`   // e.g. opencfd/openfoam-default:2312
	Command string            `yaml:"command"` // Engine binary override
	User    string            `yaml:"user"`    // docker --user
	Volumes map[string]string `yaml:"volumes"` // Extra read-only mounts, host to container
}

// Disambiguate configures the non-interactive strategies used when more
// than one file matches a component.
type Disambiguate struct {
	Choices map[string]int `yaml:"choices"` // 1-based pick per component
	Script  string         `yaml:"script"`  // JavaScript expression returning a 0-based index
}

// DefaultConfig returns the settings of the vehicle template.
func DefaultConfig() Config {
	return Config{
		BaseDir:    "./baseCase",
		CaseDir:    "./case",
		NProc:      6,
		MeshExt:    ".stl",
		Components: append([]string(nil), model.DefaultComponents...),
		Movable:    append([]string(nil), model.DefaultMovable...),
		MotionType: "rotatingWallVelocity",
		Layout: Layout{
			MeshDir:        "constant/triSurface",
			VelocityFile:   "0/U",
			DecomposeDict:  "system/decomposeParDict",
			FeatureDictFmt: "system/surfaceFeatureExtract_%sDict",
			ResultFile:     "postProcessing/forceCoeffs1/0/coefficient.dat",
			ReportFile:     "simulation_results.txt",
			SubdomainsKey:  "numberOfSubdomains",
			OriginKey:      "origin",
		},
		Tools: Tools{
			BlockMesh:             "blockMesh",
			SurfaceFeatureExtract: "surfaceFeatureExtract",
			SnappyHexMesh:         "snappyHexMesh",
			DecomposePar:          "decomposePar",
			Solver:                "simpleFoam",
			ReconstructPar:        "reconstructPar",
			Launcher:              "mpirun",
			LauncherArgs:          []string{"--allow-run-as-root"},
		},
		KillGrace: 10 * time.Second,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// IsMovable reports whether name carries a motion origin.
func (c Config) IsMovable(name string) bool {
	for _, m := range c.Movable {
		if m == name {
			return true
		}
	}
	return false
}

// FeatureDict returns the case-relative feature extraction dictionary for a component.
func (c Config) FeatureDict(component string) string {
	return fmt.Sprintf(c.Layout.FeatureDictFmt, component)
}

// CasePath joins a layout-relative path onto the case directory.
func (c Config) CasePath(rel string) string {
	return filepath.Join(c.CaseDir, filepath.FromSlash(rel))
}

// Validate checks the invariants the components rely on.
func (c Config) Validate() error {
	var errs []error
	if c.NProc < 1 {
		errs = append(errs, fmt.Errorf("n_proc must be at least 1, got %d", c.NProc))
	}
	if c.BaseDir == "" {
		errs = append(errs, errors.New("base_dir is required"))
	}
	if c.CaseDir == "" {
		errs = append(errs, errors.New("case_dir is required"))
	}
	if !strings.HasPrefix(c.MeshExt, ".") {
		errs = append(errs, fmt.Errorf("mesh_ext must start with '.', got %q", c.MeshExt))
	}
	if len(c.Components) == 0 {
		errs = append(errs, errors.New("components must not be empty"))
	}
	seen := make(map[string]bool, len(c.Components))
	for _, name := range c.Components {
		if name == "" {
			errs = append(errs, errors.New("component names must not be empty"))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("duplicate component %q", name))
		}
		seen[name] = true
	}
	for _, name := range c.Movable {
		if !seen[name] {
			errs = append(errs, fmt.Errorf("movable component %q is not in components", name))
		}
	}
	if !strings.Contains(c.Layout.FeatureDictFmt, "%s") {
		errs = append(errs, errors.New("layout.feature_dict_fmt must contain %s"))
	}
	for name, pick := range c.Disambiguate.Choices {
		if pick < 1 {
			errs = append(errs, fmt.Errorf("disambiguate.choices[%s] must be 1 or greater, got %d", name, pick))
		}
	}
	switch c.Container.Runtime {
	case "", "local":
	case "docker", "apptainer":
		if c.Container.Image == "" {
			errs = append(errs, fmt.Errorf("container.image is required for the %s runtime", c.Container.Runtime))
		}
	default:
		errs = append(errs, fmt.Errorf("container.runtime must be local, docker or apptainer, got %q", c.Container.Runtime))
	}
	if c.StageTimeout < 0 {
		errs = append(errs, errors.New("stage_timeout must not be negative"))
	}
	if c.KillGrace < 0 {
		errs = append(errs, errors.New("kill_grace must not be negative"))
	}
	return errors.Join(errs...)
}
