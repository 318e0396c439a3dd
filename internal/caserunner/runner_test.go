package caserunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/me/foamrun/internal/config"
	"github.com/me/foamrun/internal/execution"
	"github.com/me/foamrun/internal/logging"
	"github.com/me/foamrun/internal/store"
	"github.com/me/foamrun/pkg/model"
)

const velocity = `FoamFile
{
    object      U;
}

boundaryField
{
    mainBody { type noSlip; }
    FL { type rotatingWallVelocity; origin (0 0 0); axis (0 1 0); omega -80; }
    FR { type rotatingWallVelocity; origin (0 0 0); axis (0 1 0); omega -80; }
    RL { type rotatingWallVelocity; origin (0 0 0); axis (0 1 0); omega -80; }
    RR { type rotatingWallVelocity; origin (0 0 0); axis (0 1 0); omega -80; }
}
`

const coefficients = `# Time Cd Cd(f) Cd(r) Cl Cl(f) Cm Cs
499 0.40 0 0 0.10 0 0.01 0
500 0.312 0 0 -0.041 0 0.0075 0
`

// fakeRuntime succeeds unless told otherwise; the reconstruction stage
// writes the coefficient table when table is set.
type fakeRuntime struct {
	mu       sync.Mutex
	commands []string
	failTool string
	table    string
}

func (f *fakeRuntime) Run(_ context.Context, spec execution.RunSpec) (*execution.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, spec.Command[0])
	if spec.Command[0] == f.failTool {
		return &execution.RunResult{ExitCode: 1}, nil
	}
	if spec.Command[0] == "reconstructPar" && f.table != "" {
		path := filepath.Join(spec.WorkDir, "postProcessing", "forceCoeffs1", "0", "coefficient.dat")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(f.table), 0o644); err != nil {
			return nil, err
		}
	}
	return &execution.RunResult{}, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const triangle = `solid t
  facet normal 0 0 1
    outer loop
      vertex 0 0 0
      vertex 3 0 0
      vertex 0 3 0
    endloop
  endfacet
endsolid t
`

// setup creates a template, a mesh directory and a config pointing at them.
func setup(t *testing.T, meshes ...string) (config.Config, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.BaseDir = filepath.Join(root, "baseCase")
	cfg.CaseDir = filepath.Join(root, "case")
	cfg.NProc = 4

	writeFile(t, filepath.Join(cfg.BaseDir, "0", "U"), velocity)
	writeFile(t, filepath.Join(cfg.BaseDir, "system", "decomposeParDict"), "numberOfSubdomains 2;\n")

	meshDir := filepath.Join(root, "meshes")
	if len(meshes) == 0 {
		meshes = []string{"car_FL.stl", "car_FR.stl", "car_RL.stl", "car_RR.stl", "car_mainBody.stl"}
	}
	for _, m := range meshes {
		writeFile(t, filepath.Join(meshDir, m), triangle)
	}
	return cfg, meshDir
}

func memStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newRunner(t *testing.T, cfg config.Config, opts ...Option) *Runner {
	t.Helper()
	r, err := New(cfg, logging.Discard(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestExecute_Completed(t *testing.T) {
	cfg, meshDir := setup(t)
	rt := &fakeRuntime{table: coefficients}
	st := memStore(t)
	r := newRunner(t, cfg, WithRuntime(rt), WithStore(st))

	run, err := r.Execute(context.Background(), Request{MeshDir: meshDir})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != model.RunStateCompleted {
		t.Errorf("State = %s, want COMPLETED", run.State)
	}
	want := &model.CoefficientSample{Time: 500, Cd: 0.312, Cl: -0.041, Cm: 0.0075}
	if diff := cmp.Diff(want, run.Result); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if len(run.Geometry) != 4 || len(run.Warnings) != 0 {
		t.Errorf("geometry = %v, warnings = %v", run.Geometry, run.Warnings)
	}

	wantTools := []string{
		"blockMesh",
		"surfaceFeatureExtract", "surfaceFeatureExtract", "surfaceFeatureExtract", "surfaceFeatureExtract", "surfaceFeatureExtract",
		"snappyHexMesh", "decomposePar", "mpirun", "reconstructPar",
	}
	if diff := cmp.Diff(wantTools, rt.commands); diff != "" {
		t.Errorf("tools mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(run.ReportPath)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(string(data), "Drag Coefficient (Cd): 0.312000") {
		t.Errorf("report = %q", data)
	}

	u, err := os.ReadFile(filepath.Join(cfg.CaseDir, "0", "U"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(u), "FL { type rotatingWallVelocity; origin (1.00000000 1.000000 0.000000);") {
		t.Errorf("origin not patched:\n%s", u)
	}

	stored, err := st.GetRun(context.Background(), run.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetRun: %v, %v", stored, err)
	}
	if stored.State != model.RunStateCompleted || len(stored.Stages) != 6 || stored.Result == nil {
		t.Errorf("stored run = %+v", stored)
	}
}

func TestExecute_StageFailure(t *testing.T) {
	cfg, meshDir := setup(t)
	rt := &fakeRuntime{failTool: "snappyHexMesh", table: coefficients}
	st := memStore(t)
	r := newRunner(t, cfg, WithRuntime(rt), WithStore(st))

	run, err := r.Execute(context.Background(), Request{MeshDir: meshDir})
	var sf *model.StageFailure
	if !errors.As(err, &sf) {
		t.Fatalf("expected *model.StageFailure, got %v", err)
	}
	if run.State != model.RunStateFailed || run.FailedStep != "stage:snappyHexMesh" {
		t.Errorf("run = %s / %q", run.State, run.FailedStep)
	}
	if run.Result != nil {
		t.Error("result extracted after a failed pipeline")
	}
	if last := rt.commands[len(rt.commands)-1]; last != "snappyHexMesh" {
		t.Errorf("last tool = %s, want snappyHexMesh", last)
	}

	var statuses []model.StageStatus
	for _, s := range run.Stages {
		statuses = append(statuses, s.Status)
	}
	wantStatuses := []model.StageStatus{
		model.StageStatusSuccess, model.StageStatusSuccess, model.StageStatusFailed,
		model.StageStatusSkipped, model.StageStatusSkipped, model.StageStatusSkipped,
	}
	if diff := cmp.Diff(wantStatuses, statuses); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}

	stored, err := st.GetRun(context.Background(), run.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetRun: %v, %v", stored, err)
	}
	if stored.State != model.RunStateFailed || stored.Error == "" {
		t.Errorf("stored run = %+v", stored)
	}
}

func TestExecute_NoResult(t *testing.T) {
	cfg, meshDir := setup(t)
	r := newRunner(t, cfg, WithRuntime(&fakeRuntime{}))

	run, err := r.Execute(context.Background(), Request{MeshDir: meshDir})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != model.RunStateNoResult {
		t.Errorf("State = %s, want COMPLETED_NO_RESULT", run.State)
	}
	if run.Result != nil || run.ReportPath != "" {
		t.Errorf("unexpected result %+v / report %q", run.Result, run.ReportPath)
	}
	if len(run.Warnings) != 1 || !strings.Contains(run.Warnings[0], "no result available") {
		t.Errorf("warnings = %v", run.Warnings)
	}
}

func TestExecute_ResolutionFailureTouchesNothing(t *testing.T) {
	cfg, meshDir := setup(t, "car_FL.stl", "car_FR.stl", "car_RL.stl", "car_mainBody.stl")
	rt := &fakeRuntime{}
	r := newRunner(t, cfg, WithRuntime(rt))

	run, err := r.Execute(context.Background(), Request{MeshDir: meshDir})
	var re *model.ResolutionError
	if !errors.As(err, &re) || re.Component != "RR" {
		t.Fatalf("expected ResolutionError for RR, got %v", err)
	}
	if run.FailedStep != "resolve:RR" {
		t.Errorf("FailedStep = %q", run.FailedStep)
	}
	if _, err := os.Stat(cfg.CaseDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("case dir created despite resolution failure: %v", err)
	}
	if len(rt.commands) != 0 {
		t.Errorf("tools invoked: %v", rt.commands)
	}
}

func TestExecute_AmbiguityResolvedByChoice(t *testing.T) {
	cfg, meshDir := setup(t, "car_FL.stl", "car_FL_old.stl", "car_FR.stl", "car_RL.stl", "car_RR.stl", "car_mainBody.stl")
	cfg.Disambiguate.Choices = map[string]int{"FL": 2}
	r := newRunner(t, cfg, WithRuntime(&fakeRuntime{}))

	run, err := r.Execute(context.Background(), Request{MeshDir: meshDir, SetupOnly: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := filepath.Base(run.Mapping["FL"]); got != "car_FL_old.stl" {
		t.Errorf("FL = %s, want car_FL_old.stl", got)
	}
}

func TestExecute_AmbiguityResolvedByScript(t *testing.T) {
	cfg, meshDir := setup(t, "car_FL.stl", "car_FL_old.stl", "car_FR.stl", "car_RL.stl", "car_RR.stl", "car_mainBody.stl")
	cfg.Disambiguate.Script = `candidates.findIndex(function (c) { return c.indexOf("old") < 0 })`
	r := newRunner(t, cfg, WithRuntime(&fakeRuntime{}))

	run, err := r.Execute(context.Background(), Request{MeshDir: meshDir, SetupOnly: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := filepath.Base(run.Mapping["FL"]); got != "car_FL.stl" {
		t.Errorf("FL = %s, want car_FL.stl", got)
	}
}

func TestExecute_SetupOnly(t *testing.T) {
	cfg, meshDir := setup(t)
	rt := &fakeRuntime{}
	r := newRunner(t, cfg, WithRuntime(rt))

	run, err := r.Execute(context.Background(), Request{MeshDir: meshDir, SetupOnly: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != model.RunStateCompleted {
		t.Errorf("State = %s", run.State)
	}
	if len(rt.commands) != 0 {
		t.Errorf("tools invoked during setup: %v", rt.commands)
	}
	dec, err := os.ReadFile(filepath.Join(cfg.CaseDir, "system", "decomposeParDict"))
	if err != nil {
		t.Fatal(err)
	}
	if string(dec) != "numberOfSubdomains 4;\n" {
		t.Errorf("decomposeParDict = %q", dec)
	}
}

func TestExecute_ExplicitMappingSkipsResolve(t *testing.T) {
	cfg, meshDir := setup(t)
	mapping := model.ComponentMapping{}
	for _, name := range cfg.Components {
		mapping[name] = filepath.Join(meshDir, "car_"+name+".stl")
	}
	r := newRunner(t, cfg, WithRuntime(&fakeRuntime{}), WithCentroidFunc(func(string) (model.Vec3, error) {
		return model.Vec3{}, fmt.Errorf("unreadable")
	}))

	run, err := r.Execute(context.Background(), Request{Mapping: mapping, SetupOnly: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(run.Geometry) != 0 || len(run.Warnings) != 4 {
		t.Errorf("geometry = %v, warnings = %v", run.Geometry, run.Warnings)
	}
}

func TestNew_Errors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Disambiguate.Script = "function ("
	if _, err := New(cfg, logging.Discard()); err == nil {
		t.Error("expected error for bad script")
	}

	cfg = config.DefaultConfig()
	cfg.NProc = 0
	if _, err := New(cfg, logging.Discard()); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestFailedStep(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&model.ResolutionError{Component: "FL"}, "resolve:FL"},
		{&model.AssemblyError{Step: "place"}, "assemble:place"},
		{&model.StageFailure{Stage: "blockMesh", Invocation: "blockMesh"}, "stage:blockMesh"},
		{&model.StageFailure{Stage: "surfaceFeatureExtract", Invocation: "RR"}, "stage:surfaceFeatureExtract:RR"},
		{fmt.Errorf("wrapped: %w", context.Canceled), "cancelled"},
		{&model.StageFailure{Stage: "solve", Invocation: "simpleFoam", ExitCode: -1, Err: context.Canceled}, "cancelled"},
		{errors.New("other"), ""},
	}
	for _, tt := range tests {
		if got := failedStep(tt.err); got != tt.want {
			t.Errorf("failedStep(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestExecute_Elapsed(t *testing.T) {
	cfg, meshDir := setup(t)
	r := newRunner(t, cfg, WithRuntime(&fakeRuntime{}))
	ticks := []time.Time{time.Unix(0, 0), time.Unix(90, 0), time.Unix(90, 0)}
	r.now = func() time.Time {
		next := ticks[0]
		if len(ticks) > 1 {
			ticks = ticks[1:]
		}
		return next
	}

	run, err := r.Execute(context.Background(), Request{MeshDir: meshDir, SetupOnly: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Elapsed != 90*time.Second {
		t.Errorf("Elapsed = %v, want 90s", run.Elapsed)
	}
}

func TestExecute_PipelineElapsedExcludesSetup(t *testing.T) {
	cfg, meshDir := setup(t)
	st := memStore(t)
	r := newRunner(t, cfg, WithRuntime(&fakeRuntime{table: coefficients}), WithStore(st))
	// The run clock jumps an hour; the stage clock does not.
	ticks := []time.Time{time.Unix(0, 0), time.Unix(3600, 0)}
	r.now = func() time.Time {
		next := ticks[0]
		if len(ticks) > 1 {
			ticks = ticks[1:]
		}
		return next
	}

	run, err := r.Execute(context.Background(), Request{MeshDir: meshDir})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Elapsed != time.Hour {
		t.Errorf("Elapsed = %v, want 1h", run.Elapsed)
	}
	if run.PipelineElapsed <= 0 || run.PipelineElapsed >= run.Elapsed {
		t.Errorf("PipelineElapsed = %v, want within (0, %v)", run.PipelineElapsed, run.Elapsed)
	}

	stored, err := st.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.PipelineElapsed != run.PipelineElapsed {
		t.Errorf("stored PipelineElapsed = %v, want %v", stored.PipelineElapsed, run.PipelineElapsed)
	}
}
