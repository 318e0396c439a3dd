package execution

import (
	"context"
	"sort"
	"strings"
)

// ApptainerRuntime runs each command with `apptainer exec`. Images without
// a transport prefix or a .sif suffix are pulled from a Docker registry.
type ApptainerRuntime struct {
	// ApptainerCommand is the path to the apptainer binary (default: "apptainer").
	ApptainerCommand string
	Image            string
	Volumes          map[string]string
}

// Run executes a command in an Apptainer container.
func (r *ApptainerRuntime) Run(ctx context.Context, spec RunSpec) (*RunResult, error) {
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

func (r *ApptainerRuntime) command(spec RunSpec) []string {
	apptainerCmd := r.ApptainerCommand
	if apptainerCmd == "" {
		apptainerCmd = "apptainer"
	}

	args := []string{apptainerCmd, "exec"}
	if spec.WorkDir != "" {
		workDir := resolveSymlinks(spec.WorkDir)
		args = append(args, "--bind", workDir+":"+workDir, "--pwd", workDir)
	}
	for _, hostPath := range sortedKeys(r.Volumes) {
		args = append(args, "--bind", resolveSymlinks(hostPath)+":"+r.Volumes[hostPath]+":ro")
	}
	for _, k := range sortedKeys(spec.Env) {
		args = append(args, "--env", k+"="+spec.Env[k])
	}

	args = append(args, apptainerImage(r.Image))
	return append(args, spec.Command...)
}

func apptainerImage(image string) string {
	if strings.Contains(image, "://") || strings.HasSuffix(image, ".sif") {
		return image
	}
	return "docker://" + image
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
