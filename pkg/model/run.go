package model

import (
	"time"
)

// Run is one end-to-end attempt: resolve, assemble, execute, extract.
type Run struct {
	ID       string                  `json:"id"`
	State    RunState                `json:"state"`
	MeshDir  string                  `json:"mesh_dir,omitempty"`
	BaseDir  string                  `json:"base_dir"`
	CaseDir  string                  `json:"case_dir"`
	NProc    int                     `json:"n_proc"`
	Mapping  ComponentMapping        `json:"mapping"`
	Geometry []SurfaceGeometryRecord `json:"geometry,omitempty"`

	// Warnings collects non-fatal problems (missing patch targets,
	// centroid failures, an unavailable result).
	Warnings []string `json:"warnings,omitempty"`

	Stages []StageRecord      `json:"stages,omitempty"`
	Result *CoefficientSample `json:"result,omitempty"`

	// ReportPath is the summary file written after a successful extraction.
	ReportPath string `json:"report_path,omitempty"`

	// FailedStep names the component or stage that stopped the run.
	FailedStep string `json:"failed_step,omitempty"`
	Error      string `json:"error,omitempty"`

	// Elapsed covers the whole run; PipelineElapsed only the tool stages.
	Elapsed         time.Duration `json:"elapsed_ns"`
	PipelineElapsed time.Duration `json:"pipeline_elapsed_ns,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// StageRecord is the recorded outcome of one pipeline stage.
type StageRecord struct {
	Name        string        `json:"name"`
	Status      StageStatus   `json:"status"`
	Invocations int           `json:"invocations"`
	ExitCode    int           `json:"exit_code"`
	StartTime   time.Time     `json:"start_time"`
	Duration    time.Duration `json:"duration_ns"`
}
