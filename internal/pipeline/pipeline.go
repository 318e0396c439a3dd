// Package pipeline runs the ordered external-tool stages against an
// assembled case and stops at the first failure.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/me/foamrun/internal/execution"
	"github.com/me/foamrun/internal/logging"
	"github.com/me/foamrun/pkg/model"
)

// Invocation is one external process.
type Invocation struct {
	Label   string   // component name for fan-out members, tool name otherwise
	Argv    []string // command and arguments
	LogName string   // output file relative to the work dir; empty discards output
}

// Stage is a named group of invocations run one after another. A stage
// with several invocations is a fan-out; it fails on its first failing member.
type Stage struct {
	Name        string
	Invocations []Invocation
}

// Options configures an Executor.
type Options struct {
	WorkDir   string        // working directory for every invocation
	Timeout   time.Duration // per-invocation limit, zero for none
	KillGrace time.Duration // interrupt-to-kill delay on cancellation
	Echo      io.Writer     // optional live copy of tool output
}

// Executor runs stages synchronously through a Runtime.
type Executor struct {
	runtime execution.Runtime
	opts    Options
	logger  *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(rt execution.Runtime, opts Options, logger *slog.Logger) *Executor {
	return &Executor{
		runtime: rt,
		opts:    opts,
		logger:  logging.Component(logger, "pipeline"),
	}
}

// Report is the outcome of a pipeline run.
type Report struct {
	Succeeded bool
	Elapsed   time.Duration
	Stages    []model.StageRecord
	Failure   *model.StageFailure
}

// Run executes stages in order. The first invocation that exits non-zero
// (or cannot be started) ends the run: its stage is recorded as failed,
// every later stage as skipped, and the returned error is the
// *model.StageFailure. Nothing is retried. The report is never nil and its
// Elapsed covers first start to completion or abort.
func (e *Executor) Run(ctx context.Context, stages []Stage) (*Report, error) {
	report := &Report{Stages: make([]model.StageRecord, 0, len(stages))}
	start := time.Now()

	for i, stage := range stages {
		e.logger.Info("stage started", "stage", stage.Name, "index", i+1, "of", len(stages))
		rec, failure := e.runStage(ctx, stage)
		report.Stages = append(report.Stages, rec)

		if failure != nil {
			report.Elapsed = time.Since(start)
			report.Failure = failure
			for _, rest := range stages[i+1:] {
				report.Stages = append(report.Stages, model.StageRecord{
					Name:   rest.Name,
					Status: model.StageStatusSkipped,
				})
			}
			e.logger.Error("pipeline failed",
				"stage", stage.Name,
				"error", failure,
				"elapsed", report.Elapsed.Round(time.Millisecond),
			)
			return report, failure
		}
		e.logger.Info("stage completed", "stage", stage.Name, "duration", rec.Duration.Round(time.Millisecond))
	}

	report.Elapsed = time.Since(start)
	report.Succeeded = true
	e.logger.Info("pipeline completed",
		"stages", len(stages),
		"elapsed", report.Elapsed.Round(10*time.Millisecond),
		"minutes", fmt.Sprintf("%.1f", report.Elapsed.Minutes()),
	)
	return report, nil
}

func (e *Executor) runStage(ctx context.Context, stage Stage) (model.StageRecord, *model.StageFailure) {
	rec := model.StageRecord{
		Name:      stage.Name,
		StartTime: time.Now(),
	}
	for _, inv := range stage.Invocations {
		rec.Invocations++
		exitCode, err := e.invoke(ctx, inv)
		rec.ExitCode = exitCode
		if err != nil || exitCode != 0 {
			rec.Status = model.StageStatusFailed
			rec.Duration = time.Since(rec.StartTime)
			return rec, &model.StageFailure{
				Stage:      stage.Name,
				Invocation: inv.Label,
				ExitCode:   exitCode,
				Err:        err,
			}
		}
	}
	rec.Status = model.StageStatusSuccess
	rec.Duration = time.Since(rec.StartTime)
	return rec, nil
}

func (e *Executor) invoke(ctx context.Context, inv Invocation) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}

	spec := execution.RunSpec{
		Command:   inv.Argv,
		WorkDir:   e.opts.WorkDir,
		Echo:      e.opts.Echo,
		Timeout:   e.opts.Timeout,
		KillGrace: e.opts.KillGrace,
	}
	if inv.LogName != "" {
		spec.LogPath = filepath.Join(e.opts.WorkDir, inv.LogName)
	}

	e.logger.Debug("invoke", "label", inv.Label, "argv", inv.Argv, "log", spec.LogPath)
	res, err := e.runtime.Run(ctx, spec)
	if err != nil {
		code := -1
		if res != nil {
			code = res.ExitCode
		}
		return code, err
	}
	if res.ExitCode != 0 {
		e.logger.Warn("tool exited non-zero", "label", inv.Label, "exit_code", res.ExitCode, "log", spec.LogPath)
	} else {
		e.logger.Debug("tool finished", "label", inv.Label, "duration", res.Duration.Round(time.Millisecond))
	}
	return res.ExitCode, nil
}
