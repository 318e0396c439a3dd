// Package resolver binds the canonical component names to mesh files found
// in an input directory.
package resolver

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/me/foamrun/internal/logging"
	"github.com/me/foamrun/pkg/model"
)

// Resolver maps a directory listing onto a fixed component set.
// It never writes to the filesystem.
type Resolver struct {
	components    []string
	ext           string
	disambiguator Disambiguator
	logger        *slog.Logger
}

// New creates a Resolver for the given components and mesh extension.
// d may be nil, in which case any ambiguity fails resolution.
func New(components []string, ext string, d Disambiguator, logger *slog.Logger) *Resolver {
	return &Resolver{
		components:    components,
		ext:           ext,
		disambiguator: d,
		logger:        logging.Component(logger, "resolver"),
	}
}

// Resolve lists dir and returns a mapping with every component bound, or a
// *model.ResolutionError naming the first component that could not be bound.
func (r *Resolver) Resolve(dir string) (model.ComponentMapping, error) {
	files, err := r.listMeshes(dir)
	if err != nil {
		return nil, err
	}
	r.logger.Info("mesh files found", "dir", dir, "count", len(files))
	for _, f := range files {
		r.logger.Debug("mesh file", "name", filepath.Base(f))
	}

	mapping := make(model.ComponentMapping, len(r.components))
	for _, component := range r.components {
		candidates := Match(component, files)
		switch len(candidates) {
		case 0:
			return nil, &model.ResolutionError{Component: component, Reason: model.ReasonMissing}
		case 1:
			mapping[component] = candidates[0]
		default:
			chosen, err := r.disambiguate(component, candidates)
			if err != nil {
				return nil, err
			}
			mapping[component] = chosen
		}
		r.logger.Info("component resolved", "component", component, "file", filepath.Base(mapping[component]))
	}
	return mapping, nil
}

func (r *Resolver) disambiguate(component string, candidates []string) (string, error) {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = filepath.Base(c)
	}
	ambiguous := func(err error) error {
		return &model.ResolutionError{
			Component:  component,
			Reason:     model.ReasonAmbiguous,
			Candidates: names,
			Err:        err,
		}
	}

	r.logger.Warn("multiple files match component", "component", component, "candidates", names)
	if r.disambiguator == nil {
		return "", ambiguous(ErrDeclined)
	}
	idx, err := r.disambiguator.Choose(component, names)
	if err != nil {
		return "", ambiguous(err)
	}
	if idx < 0 || idx >= len(candidates) {
		return "", ambiguous(fmt.Errorf("choice %d out of range [0,%d)", idx, len(candidates)))
	}
	return candidates[idx], nil
}

// listMeshes returns the regular files in dir (not recursing) whose
// extension matches, sorted by name.
func (r *Resolver) listMeshes(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list mesh dir %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), r.ext) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

// Match returns the files whose name refers to component. Matching is
// case-insensitive: the name may appear anywhere in the filename, start it,
// or end its stem.
func Match(component string, files []string) []string {
	token := strings.ToLower(component)
	var matches []string
	for _, f := range files {
		name := strings.ToLower(filepath.Base(f))
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if strings.Contains(name, token) ||
			strings.HasPrefix(name, token) ||
			strings.HasSuffix(stem, token) {
			matches = append(matches, f)
		}
	}
	return matches
}
