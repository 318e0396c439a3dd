package casedir

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/me/foamrun/internal/config"
	"github.com/me/foamrun/internal/logging"
	"github.com/me/foamrun/pkg/model"
)

const velocityTemplate = `FoamFile
{
    version     2.0;
    format      ascii;
    class       volVectorField;
    object      U;
}

internalField   uniform (20 0 0);

boundaryField
{
    mainBody
    {
        type            noSlip;
    }
%s}
`

const wheelBlock = `
    %s
    {
        type            rotatingWallVelocity;
        origin          (0 0 0);
        axis            (0 1 0);
        omega           -80;
    }
`

const decomposeTemplate = `FoamFile
{
    object      decomposeParDict;
}

numberOfSubdomains 4;

method          scotch;
`

func velocityFor(wheels ...string) string {
	var blocks strings.Builder
	for _, w := range wheels {
		fmt.Fprintf(&blocks, wheelBlock, w)
	}
	return fmt.Sprintf(velocityTemplate, blocks.String())
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

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// squareSTL is a unit square in the z=0 plane translated by (dx, dy, dz).
func squareSTL(dx, dy, dz float64) string {
	v := func(x, y float64) string {
		return fmt.Sprintf("      vertex %g %g %g\n", x+dx, y+dy, dz)
	}
	return "solid part\n" +
		"  facet normal 0 0 1\n    outer loop\n" + v(0, 0) + v(1, 0) + v(1, 1) + "    endloop\n  endfacet\n" +
		"  facet normal 0 0 1\n    outer loop\n" + v(0, 0) + v(1, 1) + v(0, 1) + "    endloop\n  endfacet\n" +
		"endsolid part\n"
}

type fixture struct {
	base    string
	caseDir string
	mapping model.ComponentMapping
}

func newFixture(t *testing.T, velocity string) fixture {
	t.Helper()
	root := t.TempDir()
	base := filepath.Join(root, "baseCase")
	writeFile(t, filepath.Join(base, "0", "U"), velocity)
	writeFile(t, filepath.Join(base, "system", "decomposeParDict"), decomposeTemplate)
	writeFile(t, filepath.Join(base, "system", "controlDict"), "application simpleFoam;\n")
	writeFile(t, filepath.Join(base, "Allrun"), "#!/bin/sh\n")
	if err := os.Chmod(filepath.Join(base, "Allrun"), 0o755); err != nil {
		t.Fatal(err)
	}

	meshes := filepath.Join(root, "meshes")
	mapping := model.ComponentMapping{}
	for i, name := range model.DefaultComponents {
		p := filepath.Join(meshes, "car_"+name+"_v2.stl")
		writeFile(t, p, squareSTL(float64(i), 0, 0))
		mapping[name] = p
	}
	return fixture{base: base, caseDir: filepath.Join(root, "case"), mapping: mapping}
}

func fixedCentroids(points map[string]model.Vec3) CentroidFunc {
	return func(path string) (model.Vec3, error) {
		for name, p := range points {
			if strings.Contains(filepath.Base(path), "_"+name+"_") {
				return p, nil
			}
		}
		return model.Vec3{}, fmt.Errorf("no centroid for %s", path)
	}
}

func TestAssemble_PlacesComponentsAndPatches(t *testing.T) {
	f := newFixture(t, velocityFor("FL", "FR", "RL", "RR"))
	a := New(config.DefaultConfig(), logging.Discard())

	res, err := a.Assemble(context.Background(), f.mapping, f.base, f.caseDir, 8)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}

	for _, name := range model.DefaultComponents {
		placed := filepath.Join(f.caseDir, "constant", "triSurface", name+".stl")
		if res.Placed[name] != placed {
			t.Errorf("Placed[%s] = %q, want %q", name, res.Placed[name], placed)
		}
		if readFile(t, placed) != readFile(t, f.mapping[name]) {
			t.Errorf("%s content differs from source", name)
		}
	}

	var got []string
	for _, g := range res.Geometry {
		got = append(got, g.Component)
	}
	if diff := cmp.Diff([]string{"FL", "FR", "RL", "RR"}, got); diff != "" {
		t.Errorf("geometry components (-want +got):\n%s", diff)
	}
	// FL is the square shifted by 0 in x, FR by 1: centroids (0.5,0.5,0) and (1.5,0.5,0).
	want := model.Vec3{1.5, 0.5, 0}
	for i, c := range res.Geometry[1].Centroid {
		if math.Abs(c-want[i]) > 1e-12 {
			t.Errorf("FR centroid = %v, want %v", res.Geometry[1].Centroid, want)
			break
		}
	}

	u := readFile(t, filepath.Join(f.caseDir, "0", "U"))
	if !strings.Contains(u, "origin          (1.50000000 0.500000 0.000000);") {
		t.Errorf("FR origin not patched:\n%s", u)
	}
	dec := readFile(t, filepath.Join(f.caseDir, "system", "decomposeParDict"))
	if !strings.Contains(dec, "numberOfSubdomains 8;") {
		t.Errorf("subdomains not patched:\n%s", dec)
	}
	if got := readFile(t, filepath.Join(f.caseDir, "system", "controlDict")); got != "application simpleFoam;\n" {
		t.Errorf("controlDict = %q", got)
	}
}

func TestAssemble_ExactOriginLiteral(t *testing.T) {
	f := newFixture(t, velocityFor("FL"))
	cfg := config.DefaultConfig()
	cfg.Movable = []string{"FL"}
	a := New(cfg, logging.Discard()).WithCentroidFunc(fixedCentroids(map[string]model.Vec3{
		"FL": {1.23456789, 2.345678, -0.5},
	}))

	if _, err := a.Assemble(context.Background(), f.mapping, f.base, f.caseDir, 4); err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	want := strings.Replace(velocityFor("FL"), "origin          (0 0 0);", "origin          (1.23456789 2.345678 -0.500000);", 1)
	if diff := cmp.Diff(want, readFile(t, filepath.Join(f.caseDir, "0", "U"))); diff != "" {
		t.Errorf("U mismatch (-want +got):\n%s", diff)
	}
}

func TestAssemble_Idempotent(t *testing.T) {
	f := newFixture(t, velocityFor("FL", "FR", "RL", "RR"))
	a := New(config.DefaultConfig(), logging.Discard())

	read := func() map[string]string {
		return map[string]string{
			"U":         readFile(t, filepath.Join(f.caseDir, "0", "U")),
			"decompose": readFile(t, filepath.Join(f.caseDir, "system", "decomposeParDict")),
		}
	}

	if _, err := a.Assemble(context.Background(), f.mapping, f.base, f.caseDir, 6); err != nil {
		t.Fatalf("first Assemble: %v", err)
	}
	first := read()

	// A stale file from a previous run must not survive reassembly.
	stale := filepath.Join(f.caseDir, "processor0", "stale")
	writeFile(t, stale, "old")

	if _, err := a.Assemble(context.Background(), f.mapping, f.base, f.caseDir, 6); err != nil {
		t.Fatalf("second Assemble: %v", err)
	}
	if diff := cmp.Diff(first, read()); diff != "" {
		t.Errorf("reassembly changed files (-first +second):\n%s", diff)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale file survived reassembly: %v", err)
	}
}

func TestAssemble_MissingBlockIsWarning(t *testing.T) {
	f := newFixture(t, velocityFor("FL", "FR", "RL"))
	a := New(config.DefaultConfig(), logging.Discard())

	res, err := a.Assemble(context.Background(), f.mapping, f.base, f.caseDir, 6)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", res.Warnings)
	}
	var pnf *model.PatchNotFound
	if !errors.As(res.Warnings[0], &pnf) {
		t.Fatalf("warning %T is not *model.PatchNotFound", res.Warnings[0])
	}
	if pnf.Target != "RR[rotatingWallVelocity].origin" || pnf.File != "0/U" {
		t.Errorf("PatchNotFound = %+v", pnf)
	}

	u := readFile(t, filepath.Join(f.caseDir, "0", "U"))
	if strings.Count(u, "(0 0 0)") != 0 || strings.Count(u, "0.500000 0.000000)") != 3 {
		t.Errorf("remaining wheels not patched:\n%s", u)
	}
}

func TestAssemble_CentroidFailureIsWarning(t *testing.T) {
	f := newFixture(t, velocityFor("FL", "FR", "RL", "RR"))
	a := New(config.DefaultConfig(), logging.Discard()).WithCentroidFunc(fixedCentroids(map[string]model.Vec3{
		"FL": {1, 2, 3}, "FR": {1, 2, 3}, "RL": {1, 2, 3},
	}))

	res, err := a.Assemble(context.Background(), f.mapping, f.base, f.caseDir, 6)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(res.Geometry) != 3 || len(res.Warnings) != 1 {
		t.Fatalf("geometry = %v, warnings = %v", res.Geometry, res.Warnings)
	}
	if !strings.Contains(res.Warnings[0].Error(), "centroid RR") {
		t.Errorf("warning = %v", res.Warnings[0])
	}
	if _, err := os.Stat(res.Placed["RR"]); err != nil {
		t.Errorf("RR placement undone: %v", err)
	}
	u := readFile(t, filepath.Join(f.caseDir, "0", "U"))
	if strings.Count(u, "(0 0 0)") != 1 {
		t.Errorf("expected only RR to keep the placeholder origin:\n%s", u)
	}
}

func TestAssemble_NoDecomposeDictIsNoop(t *testing.T) {
	f := newFixture(t, velocityFor("FL", "FR", "RL", "RR"))
	if err := os.Remove(filepath.Join(f.base, "system", "decomposeParDict")); err != nil {
		t.Fatal(err)
	}
	res, err := New(config.DefaultConfig(), logging.Discard()).Assemble(context.Background(), f.mapping, f.base, f.caseDir, 6)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestAssemble_NonIntegerSubdomainsIsWarning(t *testing.T) {
	f := newFixture(t, velocityFor("FL", "FR", "RL", "RR"))
	path := filepath.Join(f.base, "system", "decomposeParDict")
	writeFile(t, path, "numberOfSubdomains $nProcs;\n")

	res, err := New(config.DefaultConfig(), logging.Discard()).Assemble(context.Background(), f.mapping, f.base, f.caseDir, 6)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	var pnf *model.PatchNotFound
	if len(res.Warnings) != 1 || !errors.As(res.Warnings[0], &pnf) {
		t.Fatalf("warnings = %v", res.Warnings)
	}
	if got := readFile(t, filepath.Join(f.caseDir, "system", "decomposeParDict")); got != "numberOfSubdomains $nProcs;\n" {
		t.Errorf("decomposeParDict rewritten: %q", got)
	}
}

func TestAssemble_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		nProc int
		check func(t *testing.T, err error)
	}{
		{
			name:  "incomplete mapping",
			setup: func(f *fixture) { delete(f.mapping, "RL") },
			nProc: 6,
			check: func(t *testing.T, err error) {
				var re *model.ResolutionError
				if !errors.As(err, &re) || re.Component != "RL" {
					t.Errorf("expected ResolutionError for RL, got %v", err)
				}
			},
		},
		{
			name:  "missing template",
			setup: func(f *fixture) { f.base = filepath.Join(f.base, "nope") },
			nProc: 6,
			check: assemblyStep(StepValidate),
		},
		{
			name:  "destination inside template",
			setup: func(f *fixture) { f.caseDir = filepath.Join(f.base, "case") },
			nProc: 6,
			check: assemblyStep(StepValidate),
		},
		{
			name:  "zero processors",
			nProc: 0,
			check: assemblyStep(StepValidate),
		},
		{
			name:  "unreadable mesh",
			setup: func(f *fixture) { f.mapping["FR"] = filepath.Join(f.base, "missing.stl") },
			nProc: 6,
			check: assemblyStep(StepPlace),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, velocityFor("FL", "FR", "RL", "RR"))
			if tt.setup != nil {
				tt.setup(&f)
			}
			_, err := New(config.DefaultConfig(), logging.Discard()).Assemble(context.Background(), f.mapping, f.base, f.caseDir, tt.nProc)
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)
		})
	}
}

func assemblyStep(step string) func(*testing.T, error) {
	return func(t *testing.T, err error) {
		t.Helper()
		var ae *model.AssemblyError
		if !errors.As(err, &ae) {
			t.Fatalf("expected *model.AssemblyError, got %T: %v", err, err)
		}
		if ae.Step != step {
			t.Errorf("Step = %q, want %q", ae.Step, step)
		}
	}
}

func TestAssemble_PlacementFailureKeepsPartialCase(t *testing.T) {
	f := newFixture(t, velocityFor("FL", "FR", "RL", "RR"))
	f.mapping["RR"] = filepath.Join(f.base, "missing.stl")

	_, err := New(config.DefaultConfig(), logging.Discard()).Assemble(context.Background(), f.mapping, f.base, f.caseDir, 6)
	if err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(filepath.Join(f.caseDir, "constant", "triSurface", "FL.stl")); err != nil {
		t.Errorf("earlier placement missing: %v", err)
	}
}

func TestCopyDir_PreservesModesAndSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks and modes differ on windows")
	}
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "Allrun"), "#!/bin/sh\n")
	if err := os.Chmod(filepath.Join(src, "Allrun"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(src, "constant", "transportProperties"), "nu 1.5e-05;\n")
	if err := os.Symlink("constant/transportProperties", filepath.Join(src, "link")); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "out")
	if err := copyDir(src, dst); err != nil {
		t.Fatalf("copyDir: %v", err)
	}

	info, err := os.Stat(filepath.Join(dst, "Allrun"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("Allrun lost its execute bit: %v", info.Mode())
	}
	target, err := os.Readlink(filepath.Join(dst, "link"))
	if err != nil {
		t.Fatalf("link not recreated: %v", err)
	}
	if target != "constant/transportProperties" {
		t.Errorf("link target = %q", target)
	}
	if got := readFile(t, filepath.Join(dst, "constant", "transportProperties")); got != "nu 1.5e-05;\n" {
		t.Errorf("content = %q", got)
	}
}

func TestIsWithin(t *testing.T) {
	tests := []struct {
		root, path string
		want       bool
	}{
		{"/a/b", "/a/b", true},
		{"/a/b", "/a/b/c", true},
		{"/a/b", "/a/bc", false},
		{"/a/b", "/a", false},
		{"/a/b", "/a/..b", false},
	}
	for _, tt := range tests {
		if got := isWithin(tt.root, tt.path); got != tt.want {
			t.Errorf("isWithin(%q, %q) = %v, want %v", tt.root, tt.path, got, tt.want)
		}
	}
}
