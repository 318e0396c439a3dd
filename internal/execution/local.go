package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// pipeDrainDelay bounds the wait for output after a child was killed.
const pipeDrainDelay = 500 * time.Millisecond

// LocalRuntime executes commands as local processes.
//
// Cancelling the context sends an interrupt to the child rather than
// killing it outright, so tools such as mpirun can tear down their own
// ranks; the child is killed once KillGrace has passed. Without a grace
// period the child is killed at once.
type LocalRuntime struct{}

// Run executes a command locally.
func (r *LocalRuntime) Run(ctx context.Context, spec RunSpec) (*RunResult, error) {
	if len(spec.Command) == 0 {
		return nil, ErrEmptyCommand
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkDir
	if spec.KillGrace > 0 {
		cmd.Cancel = func() error {
			return cmd.Process.Signal(os.Interrupt)
		}
		cmd.WaitDelay = spec.KillGrace
	} else {
		cmd.Cancel = func() error {
			return cmd.Process.Kill()
		}
		// Grandchildren may outlive the kill and keep the output pipe open.
		cmd.WaitDelay = pipeDrainDelay
	}

	// Set environment.
	if len(spec.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	// Route output.
	var sinks []io.Writer
	var outBuf bytes.Buffer
	if spec.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		logFile, err := os.Create(spec.LogPath)
		if err != nil {
			return nil, fmt.Errorf("create log file: %w", err)
		}
		defer logFile.Close()
		sinks = append(sinks, logFile)
	}
	if spec.Echo != nil {
		sinks = append(sinks, spec.Echo)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, &outBuf)
	}
	out := io.MultiWriter(sinks...)
	cmd.Stdout = out
	cmd.Stderr = out

	// Run the command.
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		exitCode = -1
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		// A cancelled child may still exit 0, or leave only a wait error
		// behind; the context decides the outcome either way.
		switch ctxErr := ctx.Err(); {
		case spec.Timeout > 0 && errors.Is(ctxErr, context.DeadlineExceeded):
			return &RunResult{ExitCode: exitCode, Duration: elapsed, Output: outBuf.String()},
				fmt.Errorf("%w after %s", ErrTimeout, spec.Timeout)
		case ctxErr != nil:
			return &RunResult{ExitCode: exitCode, Duration: elapsed, Output: outBuf.String()}, ctxErr
		case exitErr == nil:
			return nil, fmt.Errorf("run command: %w", err)
		}
	}

	return &RunResult{
		ExitCode: exitCode,
		Duration: elapsed,
		Output:   outBuf.String(),
	}, nil
}
