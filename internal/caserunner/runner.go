// Package caserunner drives one end-to-end run: resolve the component
// meshes, assemble the case, execute the pipeline, extract the result and
// record the outcome.
package caserunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/me/foamrun/internal/casedir"
	"github.com/me/foamrun/internal/config"
	"github.com/me/foamrun/internal/execution"
	"github.com/me/foamrun/internal/logging"
	"github.com/me/foamrun/internal/pipeline"
	"github.com/me/foamrun/internal/resolver"
	"github.com/me/foamrun/internal/results"
	"github.com/me/foamrun/internal/store"
	"github.com/me/foamrun/pkg/model"
)

// Runner executes runs with a fixed configuration.
type Runner struct {
	cfg       config.Config
	logger    *slog.Logger
	resolver  *resolver.Resolver
	assembler *casedir.Assembler
	runtime   execution.Runtime
	extractor *results.Extractor
	store     store.Store
	echo      io.Writer
	now       func() time.Time
}

// Option configures optional Runner dependencies.
type Option func(*Runner)

// WithStore records every run in st.
func WithStore(st store.Store) Option {
	return func(r *Runner) { r.store = st }
}

// WithRuntime replaces the process runtime used by the pipeline.
func WithRuntime(rt execution.Runtime) Option {
	return func(r *Runner) { r.runtime = rt }
}

// WithEcho copies tool output to w while it runs.
func WithEcho(w io.Writer) Option {
	return func(r *Runner) { r.echo = w }
}

// WithCentroidFunc replaces the mesh centroid computation.
func WithCentroidFunc(fn casedir.CentroidFunc) Option {
	return func(r *Runner) { r.assembler.WithCentroidFunc(fn) }
}

// New builds a Runner from cfg. Disambiguation uses the configured fixed
// choices first, then the configured script.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	chain := resolver.Chain{resolver.Choices(cfg.Disambiguate.Choices)}
	if cfg.Disambiguate.Script != "" {
		script, err := resolver.NewScriptDisambiguator(cfg.Disambiguate.Script)
		if err != nil {
			return nil, err
		}
		chain = append(chain, script)
	}

	rt, err := execution.New(cfg.Container.Runtime, execution.ContainerOptions{
		Command: cfg.Container.Command,
		Image:   cfg.Container.Image,
		User:    cfg.Container.User,
		Volumes: cfg.Container.Volumes,
	})
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:       cfg,
		logger:    logging.Component(logger, "caserunner"),
		resolver:  resolver.New(cfg.Components, cfg.MeshExt, chain, logger),
		assembler: casedir.New(cfg, logger),
		runtime:   rt,
		extractor: results.NewExtractor(cfg.Layout.ResultFile, logger),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve binds every configured component to a mesh file in meshDir.
func (r *Runner) Resolve(meshDir string) (model.ComponentMapping, error) {
	return r.resolver.Resolve(meshDir)
}

// Request selects what a run does.
type Request struct {
	// MeshDir is scanned for component meshes unless Mapping is set.
	MeshDir string
	Mapping model.ComponentMapping
	// SetupOnly stops after the case is assembled.
	SetupOnly bool
}

// Execute performs one run. The returned Run is never nil and describes
// how far the run got; the error is the fatal failure, if any. A missing
// result is not an error: the run ends in COMPLETED_NO_RESULT.
func (r *Runner) Execute(ctx context.Context, req Request) (*model.Run, error) {
	start := r.now()
	run := &model.Run{
		ID:        "run_" + uuid.New().String(),
		State:     model.RunStatePending,
		MeshDir:   req.MeshDir,
		BaseDir:   r.cfg.BaseDir,
		CaseDir:   r.cfg.CaseDir,
		NProc:     r.cfg.NProc,
		Mapping:   req.Mapping,
		CreatedAt: start.UTC(),
	}
	log := r.logger.With("run_id", run.ID)
	r.create(ctx, run)

	err := r.execute(ctx, req, run, log)
	run.Elapsed = r.now().Sub(start)
	done := r.now().UTC()
	run.CompletedAt = &done
	if err != nil {
		run.Error = err.Error()
		run.FailedStep = failedStep(err)
		r.transition(run, model.RunStateFailed, log)
		log.Error("run failed", "step", run.FailedStep, "error", err, "elapsed", run.Elapsed.Round(time.Second))
	} else {
		log.Info("run finished", "state", run.State, "elapsed", run.Elapsed.Round(time.Second))
	}
	r.update(context.WithoutCancel(ctx), run)
	return run, err
}

func (r *Runner) execute(ctx context.Context, req Request, run *model.Run, log *slog.Logger) error {
	if run.Mapping == nil {
		r.transition(run, model.RunStateResolving, log)
		mapping, err := r.resolver.Resolve(req.MeshDir)
		if err != nil {
			return err
		}
		run.Mapping = mapping
	}

	r.transition(run, model.RunStateAssembling, log)
	r.update(ctx, run)
	assembled, err := r.assembler.Assemble(ctx, run.Mapping, r.cfg.BaseDir, r.cfg.CaseDir, r.cfg.NProc)
	if assembled != nil {
		run.Geometry = assembled.Geometry
		for _, w := range assembled.Warnings {
			run.Warnings = append(run.Warnings, w.Error())
		}
	}
	if err != nil {
		return err
	}
	if req.SetupOnly {
		r.transition(run, model.RunStateCompleted, log)
		return nil
	}

	r.transition(run, model.RunStateRunning, log)
	r.update(ctx, run)
	stages, err := pipeline.DefaultStages(r.cfg, r.cfg.CaseDir, r.cfg.NProc)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(r.cfg.CaseDir)
	if err != nil {
		return err
	}
	ex := pipeline.NewExecutor(r.runtime, pipeline.Options{
		WorkDir:   abs,
		Timeout:   r.cfg.StageTimeout,
		KillGrace: r.cfg.KillGrace,
		Echo:      r.echo,
	}, r.logger)
	report, err := ex.Run(ctx, stages)
	if report != nil {
		run.Stages = report.Stages
		run.PipelineElapsed = report.Elapsed
	}
	if err != nil {
		return err
	}

	r.transition(run, model.RunStateExtracting, log)
	sample, err := r.extractor.Latest(r.cfg.CaseDir)
	if err != nil {
		var ru *model.ResultUnavailable
		if !errors.As(err, &ru) {
			return err
		}
		run.Warnings = append(run.Warnings, err.Error())
		r.transition(run, model.RunStateNoResult, log)
		return nil
	}
	run.Result = sample

	reportPath := r.cfg.CasePath(r.cfg.Layout.ReportFile)
	if err := results.WriteReport(reportPath, sample); err != nil {
		log.Warn("summary report not written", "path", reportPath, "error", err)
		run.Warnings = append(run.Warnings, err.Error())
	} else {
		run.ReportPath = reportPath
		log.Info("results saved", "path", reportPath)
	}
	r.transition(run, model.RunStateCompleted, log)
	return nil
}

// transition moves run to next, logging transitions the state machine
// does not allow instead of applying them.
func (r *Runner) transition(run *model.Run, next model.RunState, log *slog.Logger) {
	if !run.State.CanTransitionTo(next) {
		log.Error("invalid state transition", "from", run.State, "to", next)
		return
	}
	log.Debug("state", "from", run.State, "to", next)
	run.State = next
}

func (r *Runner) create(ctx context.Context, run *model.Run) {
	if r.store == nil {
		return
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		r.logger.Warn("record run", "run_id", run.ID, "error", err)
	}
}

func (r *Runner) update(ctx context.Context, run *model.Run) {
	if r.store == nil {
		return
	}
	if err := r.store.UpdateRun(ctx, run); err != nil {
		r.logger.Warn("update run", "run_id", run.ID, "error", err)
	}
}

// failedStep names the component or stage that stopped a run.
func failedStep(err error) string {
	var (
		re *model.ResolutionError
		ae *model.AssemblyError
		sf *model.StageFailure
	)
	switch {
	// Checked first: a cancelled run also surfaces as a failure of the
	// stage that was running.
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.As(err, &re):
		return "resolve:" + re.Component
	case errors.As(err, &ae):
		return "assemble:" + ae.Step
	case errors.As(err, &sf):
		if sf.Invocation != "" && sf.Invocation != sf.Stage {
			return "stage:" + sf.Stage + ":" + sf.Invocation
		}
		return "stage:" + sf.Stage
	}
	return ""
}
