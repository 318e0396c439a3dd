// Package casedir builds a runnable case directory from a template: it
// replaces the destination, places the component meshes, computes the
// movable components' centroids and patches the dictionaries that depend
// on them.
package casedir

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/me/foamrun/internal/config"
	"github.com/me/foamrun/internal/foamdict"
	"github.com/me/foamrun/internal/logging"
	"github.com/me/foamrun/internal/stl"
	"github.com/me/foamrun/pkg/model"
)

// Assembly steps reported in *model.AssemblyError.
const (
	StepValidate     = "validate"
	StepReplace      = "replace"
	StepCopyTemplate = "copy_template"
	StepPlace        = "place"
)

// CentroidFunc computes the centroid of a mesh file.
type CentroidFunc func(path string) (model.Vec3, error)

// Assembler populates case directories.
type Assembler struct {
	cfg      config.Config
	centroid CentroidFunc
	logger   *slog.Logger
}

// New creates an Assembler that computes centroids with stl.CentroidOf.
func New(cfg config.Config, logger *slog.Logger) *Assembler {
	return &Assembler{
		cfg:      cfg,
		centroid: stl.CentroidOf,
		logger:   logging.Component(logger, "casedir"),
	}
}

// WithCentroidFunc replaces the centroid computation.
func (a *Assembler) WithCentroidFunc(fn CentroidFunc) *Assembler {
	a.centroid = fn
	return a
}

// Result describes an assembled case.
type Result struct {
	CaseDir  string
	Placed   map[string]string // component -> placed mesh path
	Geometry []model.SurfaceGeometryRecord

	// Warnings holds the non-fatal problems: centroid failures and
	// *model.PatchNotFound values.
	Warnings []error
}

// Assemble builds caseDir from the template at baseDir. The mapping must
// bind every configured component; an incomplete mapping is rejected before
// the filesystem is touched. Copy and placement errors abort with a
// *model.AssemblyError and leave the destination as far as it got.
// Geometry and patch problems are collected in Result.Warnings.
func (a *Assembler) Assemble(ctx context.Context, mapping model.ComponentMapping, baseDir, caseDir string, nProc int) (*Result, error) {
	if missing := mapping.Missing(a.cfg.Components); len(missing) > 0 {
		return nil, &model.ResolutionError{Component: missing[0], Reason: model.ReasonMissing}
	}
	if nProc < 1 {
		return nil, &model.AssemblyError{Step: StepValidate, Path: caseDir, Err: fmt.Errorf("processor count must be at least 1, got %d", nProc)}
	}
	if err := a.checkDirs(baseDir, caseDir); err != nil {
		return nil, err
	}

	res := &Result{CaseDir: caseDir, Placed: make(map[string]string, len(mapping))}

	if err := a.replace(baseDir, caseDir); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := a.place(mapping, caseDir, res); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	a.computeGeometry(mapping, res)
	a.patchVelocity(caseDir, res)
	a.patchSubdomains(caseDir, nProc, res)

	a.logger.Info("case assembled",
		"case_dir", caseDir,
		"components", len(res.Placed),
		"movable", len(res.Geometry),
		"warnings", len(res.Warnings),
	)
	return res, nil
}

func (a *Assembler) checkDirs(baseDir, caseDir string) error {
	info, err := os.Stat(baseDir)
	if err != nil {
		return &model.AssemblyError{Step: StepValidate, Path: baseDir, Err: err}
	}
	if !info.IsDir() {
		return &model.AssemblyError{Step: StepValidate, Path: baseDir, Err: errors.New("template is not a directory")}
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return &model.AssemblyError{Step: StepValidate, Path: baseDir, Err: err}
	}
	absCase, err := filepath.Abs(caseDir)
	if err != nil {
		return &model.AssemblyError{Step: StepValidate, Path: caseDir, Err: err}
	}
	if isWithin(absBase, absCase) || isWithin(absCase, absBase) {
		return &model.AssemblyError{Step: StepValidate, Path: caseDir, Err: errors.New("destination overlaps the template")}
	}
	return nil
}

// replace removes any previous destination and copies the template.
func (a *Assembler) replace(baseDir, caseDir string) error {
	if _, err := os.Lstat(caseDir); err == nil {
		a.logger.Info("removing existing case directory", "case_dir", caseDir)
		if err := os.RemoveAll(caseDir); err != nil {
			return &model.AssemblyError{Step: StepReplace, Path: caseDir, Err: err}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return &model.AssemblyError{Step: StepReplace, Path: caseDir, Err: err}
	}

	a.logger.Info("copying template", "from", baseDir, "to", caseDir)
	if err := copyDir(baseDir, caseDir); err != nil {
		return &model.AssemblyError{Step: StepCopyTemplate, Path: caseDir, Err: err}
	}
	return nil
}

// place copies each mapped mesh into the case as <component><ext>.
func (a *Assembler) place(mapping model.ComponentMapping, caseDir string, res *Result) error {
	meshDir := filepath.Join(caseDir, filepath.FromSlash(a.cfg.Layout.MeshDir))
	if err := os.MkdirAll(meshDir, 0o755); err != nil {
		return &model.AssemblyError{Step: StepPlace, Path: meshDir, Err: err}
	}
	for _, name := range a.cfg.Components {
		src := mapping[name]
		dst := filepath.Join(meshDir, name+a.cfg.MeshExt)
		if err := copyFile(src, dst); err != nil {
			return &model.AssemblyError{Step: StepPlace, Path: dst, Err: err}
		}
		res.Placed[name] = dst
		a.logger.Debug("placed component", "component", name, "from", src, "to", dst)
	}
	return nil
}

// computeGeometry records the centroid of every movable component. A
// failure only drops that component from the geometry patch.
func (a *Assembler) computeGeometry(mapping model.ComponentMapping, res *Result) {
	for _, name := range a.cfg.Movable {
		src, ok := mapping[name]
		if !ok {
			continue
		}
		c, err := a.centroid(src)
		if err != nil {
			a.logger.Warn("centroid failed", "component", name, "error", err)
			res.Warnings = append(res.Warnings, fmt.Errorf("centroid %s: %w", name, err))
			continue
		}
		a.logger.Info("computed centroid", "component", name, "origin", c.OriginLiteral())
		res.Geometry = append(res.Geometry, model.SurfaceGeometryRecord{Component: name, Centroid: c})
	}
}

func (a *Assembler) patchVelocity(caseDir string, res *Result) {
	if len(res.Geometry) == 0 {
		return
	}
	rel := a.cfg.Layout.VelocityFile
	path := filepath.Join(caseDir, filepath.FromSlash(rel))
	src, err := os.ReadFile(path)
	if err != nil {
		for _, g := range res.Geometry {
			a.warnPatch(res, rel, a.originPatch(g).String(), err)
		}
		return
	}

	out := src
	for _, g := range res.Geometry {
		p := a.originPatch(g)
		patched, err := foamdict.Apply(out, p)
		if err != nil {
			a.warnPatch(res, rel, p.String(), err)
			continue
		}
		out = patched
		a.logger.Info("updated origin", "component", g.Component, "origin", p.Value)
	}
	if string(out) == string(src) {
		return
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		a.warnPatch(res, rel, "write", err)
	}
}

func (a *Assembler) originPatch(g model.SurfaceGeometryRecord) foamdict.Patch {
	return foamdict.Patch{
		Block: g.Component,
		Type:  a.cfg.MotionType,
		Key:   a.cfg.Layout.OriginKey,
		Value: g.Centroid.OriginLiteral(),
	}
}

// patchSubdomains sets the decomposition subdomain count. An absent file
// is not an error.
func (a *Assembler) patchSubdomains(caseDir string, nProc int, res *Result) {
	rel := a.cfg.Layout.DecomposeDict
	path := filepath.Join(caseDir, filepath.FromSlash(rel))
	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		a.logger.Debug("no decomposition dictionary", "path", path)
		return
	}
	key := a.cfg.Layout.SubdomainsKey
	if err != nil {
		a.warnPatch(res, rel, key, err)
		return
	}

	d, err := foamdict.Parse(src)
	if err != nil {
		a.warnPatch(res, rel, key, err)
		return
	}
	entries, err := d.Find(foamdict.Patch{Key: key})
	if err != nil {
		a.warnPatch(res, rel, key, err)
		return
	}
	if _, err := strconv.Atoi(entries[0].Value); err != nil {
		a.warnPatch(res, rel, key, fmt.Errorf("value %q is not an integer: %w", entries[0].Value, foamdict.ErrNotFound))
		return
	}
	if err := os.WriteFile(path, d.Splice(entries, strconv.Itoa(nProc)), 0o644); err != nil {
		a.warnPatch(res, rel, key, err)
		return
	}
	a.logger.Info("updated decomposition", "subdomains", nProc)
}

func (a *Assembler) warnPatch(res *Result, file, target string, err error) {
	pnf := &model.PatchNotFound{File: file, Target: target, Err: err}
	a.logger.Warn("patch target not found", "file", file, "target", target, "error", err)
	res.Warnings = append(res.Warnings, pnf)
}
