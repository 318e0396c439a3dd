package execution

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Runtime launches one external command and waits for it to exit.
type Runtime interface {
	// Run blocks until the process exits. A non-zero exit is reported in
	// RunResult.ExitCode, not as an error; errors mean the process could
	// not be started or waited for.
	Run(ctx context.Context, spec RunSpec) (*RunResult, error)
}

// RunSpec describes what to execute.
type RunSpec struct {
	Command []string          // Command and arguments
	WorkDir string            // Working directory (inherit when empty)
	Env     map[string]string // Extra environment variables
	LogPath string            // File receiving combined stdout and stderr (optional)
	Echo    io.Writer         // Additional copy of the output, e.g. the terminal (optional)

	// Timeout bounds the run; zero means no limit.
	Timeout time.Duration
	// KillGrace is how long an interrupted child may take to exit before
	// it is killed. Zero or less skips the interrupt and kills at once.
	KillGrace time.Duration
}

// RunResult holds the result of a command execution.
type RunResult struct {
	ExitCode int
	Duration time.Duration
	Output   string // Captured output when neither LogPath nor Echo is set
}

// Runtime kinds accepted by New.
const (
	KindLocal     = "local"
	KindDocker    = "docker"
	KindApptainer = "apptainer"
)

// ContainerOptions configure the container runtimes.
type ContainerOptions struct {
	Command string            // Engine binary (default: the kind's name)
	Image   string            // Image holding the OpenFOAM tools
	User    string            // Docker only
	Volumes map[string]string // Extra read-only mounts, host path to container path
}

// New returns the Runtime for kind. An empty kind selects the local runtime.
func New(kind string, opts ContainerOptions) (Runtime, error) {
	switch kind {
	case "", KindLocal:
		return &LocalRuntime{}, nil
	case KindDocker:
		if opts.Image == "" {
			return nil, ErrNoImage
		}
		return &DockerRuntime{DockerCommand: opts.Command, Image: opts.Image, User: opts.User, Volumes: opts.Volumes}, nil
	case KindApptainer:
		if opts.Image == "" {
			return nil, ErrNoImage
		}
		return &ApptainerRuntime{ApptainerCommand: opts.Command, Image: opts.Image, Volumes: opts.Volumes}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}
