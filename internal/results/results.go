// Package results reads the force coefficient table written by the solver
// and renders the run summary.
package results

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/me/foamrun/internal/logging"
	"github.com/me/foamrun/pkg/model"
)

// Column indices of the coefficient table.
const (
	colTime = 0
	colCd   = 1
	colCl   = 4
	colCm   = 6
	minCols = colCm + 1
)

// Extractor reads coefficient tables.
type Extractor struct {
	resultFile string // relative to the case directory
	logger     *slog.Logger
}

// NewExtractor creates an Extractor for the table at resultFile, given
// relative to a case directory.
func NewExtractor(resultFile string, logger *slog.Logger) *Extractor {
	return &Extractor{
		resultFile: resultFile,
		logger:     logging.Component(logger, "results"),
	}
}

// Path returns the table location inside caseDir.
func (e *Extractor) Path(caseDir string) string {
	return filepath.Join(caseDir, filepath.FromSlash(e.resultFile))
}

// Latest returns the last row of the coefficient table in caseDir. Any
// problem with the table yields a *model.ResultUnavailable, which callers
// treat as "finished without a result" rather than a failure.
func (e *Extractor) Latest(caseDir string) (*model.CoefficientSample, error) {
	path := e.Path(caseDir)
	data, err := os.ReadFile(path)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, os.ErrNotExist) {
			reason = "file not found"
		}
		return nil, e.unavailable(path, reason)
	}

	sample, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, e.unavailable(path, err.Error())
	}
	e.logger.Info("extracted coefficients",
		"time", sample.Time, "cd", sample.Cd, "cl", sample.Cl, "cm", sample.Cm)
	return sample, nil
}

func (e *Extractor) unavailable(path, reason string) error {
	e.logger.Warn("no result available", "path", path, "reason", reason)
	return &model.ResultUnavailable{Path: path, Reason: reason}
}

// Parse reads a whitespace-delimited numeric table and returns its last
// row. Text after '#' and blank lines are ignored. Every data row must be
// numeric and carry at least seven columns.
func Parse(r io.Reader) (*model.CoefficientSample, error) {
	var last []float64
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text, _, _ := strings.Cut(sc.Text(), "#")
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < minCols {
			return nil, fmt.Errorf("line %d: %d columns, want at least %d", line, len(fields), minCols)
		}
		row := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: not a number: %q", line, i, f)
			}
			row[i] = v
		}
		last = row
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if last == nil {
		return nil, errors.New("no data rows")
	}
	return &model.CoefficientSample{
		Time: last[colTime],
		Cd:   last[colCd],
		Cl:   last[colCl],
		Cm:   last[colCm],
	}, nil
}
