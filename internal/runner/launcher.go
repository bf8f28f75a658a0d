package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rvtx-labs/rvtx/internal/branding"
	"github.com/rvtx-labs/rvtx/internal/host"
)

// LaunchSpec is what a Launcher needs to start the host.
type LaunchSpec struct {
	Product          host.Product
	JournalFile      string
	ManifestFile     string
	WorkingDirectory string
}

// Launcher starts the host against a journal and waits for it to exit.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) error
}

// ProcessLauncher runs the installed host executable.
type ProcessLauncher struct{}

func (ProcessLauncher) Launch(ctx context.Context, spec LaunchSpec) error {
	if spec.Product.InstallPath == "" {
		return fmt.Errorf("%s is not installed", spec.Product.Name)
	}
	exe := filepath.Join(spec.Product.InstallPath, host.Executable)
	if _, err := os.Stat(exe); err != nil {
		return fmt.Errorf("host executable: %w", err)
	}

	cmd := exec.CommandContext(ctx, exe, "/language", "ENU", spec.JournalFile)
	cmd.Dir = spec.WorkingDirectory
	cmd.Env = setEnv(os.Environ(), branding.EnvVar("RUNNER_MANIFEST"), spec.ManifestFile)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("host exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("starting host: %w", err)
	}
	return nil
}

// setEnv sets or replaces an environment variable in the env slice.
func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
