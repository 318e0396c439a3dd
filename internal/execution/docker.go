package execution

import (
	"context"
	"path/filepath"
)

// DockerRuntime runs each command in a fresh Docker container. The working
// directory is bind-mounted at its host path, so absolute -case arguments
// and log paths mean the same thing on both sides.
type DockerRuntime struct {
	// DockerCommand is the path to the docker binary (default: "docker").
	DockerCommand string
	Image         string
	// Volumes maps extra host paths to container paths, mounted read-only.
	Volumes map[string]string
	// User is passed as --user when set, e.g. "1000:1000".
	User string
}

// Run executes a command in a Docker container.
func (r *DockerRuntime) Run(ctx context.Context, spec RunSpec) (*RunResult, error) {
	if len(spec.Command) == 0 {
		return nil, ErrEmptyCommand
	}
	if r.Image == "" {
		return nil, ErrNoImage
	}
	wrapped := spec
	wrapped.Command = r.command(spec)
	wrapped.Env = nil
	return (&LocalRuntime{}).Run(ctx, wrapped)
}

func (r *DockerRuntime) command(spec RunSpec) []string {
	dockerCmd := r.DockerCommand
	if dockerCmd == "" {
		dockerCmd = "docker"
	}

	// The CLI proxies signals to the container, so the interrupt sent on
	// cancellation reaches mpirun inside it.
	args := []string{dockerCmd, "run", "--rm", "-i"}
	if r.User != "" {
		args = append(args, "--user", r.User)
	}

	if spec.WorkDir != "" {
		workDir := resolveSymlinks(spec.WorkDir)
		args = append(args, "--mount", "type=bind,source="+workDir+",target="+workDir)
		args = append(args, "-w", workDir)
	}
	for _, hostPath := range sortedKeys(r.Volumes) {
		args = append(args, "--mount", "type=bind,source="+resolveSymlinks(hostPath)+",target="+r.Volumes[hostPath]+",readonly")
	}
	for _, k := range sortedKeys(spec.Env) {
		args = append(args, "-e", k+"="+spec.Env[k])
	}

	args = append(args, r.Image)
	return append(args, spec.Command...)
}

// resolveSymlinks returns the absolute, symlink-free form of path, or the
// absolute path when it cannot be resolved.
func resolveSymlinks(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
