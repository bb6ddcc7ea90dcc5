package sysops

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// ProcessRunner runs an external command to completion and reports its
// exit code alongside combined output. Implementations must block until
// the process exits; the provisioning pipeline is strictly sequential.
type ProcessRunner interface {
	Run(ctx context.Context, name string, args ...string) (exitCode int, output string, err error)
}

// ExecRunner is the os/exec backed ProcessRunner used outside of tests.
type ExecRunner struct{}

// NewExecRunner returns a ProcessRunner backed by os/exec.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes the command and waits for it. A non-zero exit status is not
// an error here: the exit code is returned for the caller to judge, and err
// is reserved for failures to launch the process at all.
func (*ExecRunner) Run(ctx context.Context, name string, args ...string) (int, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), string(output), nil
		}

		return -1, string(output), err
	}

	return 0, string(output), nil
}

// CommandLine renders a command invocation for logs and error messages.
func CommandLine(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), " ")
}
