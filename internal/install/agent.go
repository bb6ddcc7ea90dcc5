package install

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/oshokin/runner-provisioner/internal/logger"
	"github.com/oshokin/runner-provisioner/internal/sysops"
)

var (
	// ErrServiceRegistrationFailed indicates the runner's configuration
	// entry point completed but no matching Windows service appeared.
	// This is the one explicit post-condition check in the pipeline.
	ErrServiceRegistrationFailed = errors.New("runner service registration could not be confirmed")

	// errAgentConfigureFailed is returned when config.cmd exits non-zero.
	errAgentConfigureFailed = errors.New("runner configuration failed")
)

// AgentConfig carries everything needed to register one ephemeral runner.
type AgentConfig struct {
	// InstallPath is where the runner archive was extracted. Keep it
	// short: the runner nests deep working directories under it.
	InstallPath string
	// Name is the runner's unique name in the registration scope.
	Name string
	// Labels is the comma-separated label set.
	Labels string
	// RegistrationURL is the org- or repo-scope registration URL.
	RegistrationURL string
	// Token is the short-lived, single-use registration token.
	Token string
	// ShutdownDelaySeconds is the cancel-safe window before the
	// job-completed hook powers the machine off.
	ShutdownDelaySeconds int
	// ShutdownReason is the message shutdown.exe displays.
	ShutdownReason string
}

// AgentInstaller registers an extracted actions runner as an ephemeral
// Windows service and wires its job-completed lifecycle hook.
type AgentInstaller struct {
	runner sysops.ProcessRunner
	system sysops.SystemConfigurator
}

// NewAgentInstaller returns an AgentInstaller over the given capabilities.
func NewAgentInstaller(runner sysops.ProcessRunner, system sysops.SystemConfigurator) *AgentInstaller {
	return &AgentInstaller{runner: runner, system: system}
}

// RegisterJobCompletedHook writes the shutdown hook script and points the
// runner's machine-wide hook variable at it.
func (a *AgentInstaller) RegisterJobCompletedHook(ctx context.Context, cfg *AgentConfig) error {
	scriptPath, err := WriteShutdownHook(cfg.InstallPath, cfg.ShutdownDelaySeconds, cfg.ShutdownReason)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Registered job-completed hook", "script", scriptPath)

	if err := a.system.SetEnvironmentVariable(ctx, HookEnvironmentVariable, scriptPath); err != nil {
		return fmt.Errorf("set %s: %w", HookEnvironmentVariable, err)
	}

	return nil
}

// Configure invokes the runner's configuration entry point unattended:
// ephemeral (single job, self-deregistering), run-as-service, with the
// fixed label set. The call blocks until config.cmd exits and the exit
// code is checked.
func (a *AgentInstaller) Configure(ctx context.Context, cfg *AgentConfig) error {
	configCmd := filepath.Join(cfg.InstallPath, "config.cmd")

	args := []string{
		"--unattended",
		"--ephemeral",
		"--name", cfg.Name,
		"--runasservice",
		"--labels", cfg.Labels,
		"--url", cfg.RegistrationURL,
		"--token", cfg.Token,
	}

	logger.InfoKV(ctx, "Configuring runner as a Windows service",
		"name", cfg.Name, "url", cfg.RegistrationURL, "labels", cfg.Labels)

	exitCode, output, err := a.runner.Run(ctx, configCmd, args...)
	if err != nil {
		return fmt.Errorf("run %s: %w", configCmd, err)
	}

	if exitCode != 0 {
		return fmt.Errorf("%w: exit code %d: %s",
			errAgentConfigureFailed, exitCode, strings.TrimSpace(output))
	}

	return nil
}

// VerifyServiceRegistered confirms a service with the given prefix exists
// and returns the first match. Zero matches is the fatal, user-reported
// condition: the multi-step external configuration did not take effect.
func (a *AgentInstaller) VerifyServiceRegistered(ctx context.Context, cfg *AgentConfig, servicePrefix string) (string, error) {
	names, err := a.system.QueryServices(ctx, servicePrefix)
	if err != nil {
		return "", fmt.Errorf("enumerate services: %w", err)
	}

	if len(names) == 0 {
		return "", fmt.Errorf("%w: no service with prefix %q; check the runner logs under %s",
			ErrServiceRegistrationFailed, servicePrefix, DiagnosticsDir(cfg.InstallPath))
	}

	return names[0], nil
}

// StopService stops the freshly registered service so the host can be
// deallocated; the service auto-starts on the next boot.
func (a *AgentInstaller) StopService(ctx context.Context, name string) error {
	if err := a.system.StopService(ctx, name); err != nil {
		return fmt.Errorf("stop service %s: %w", name, err)
	}

	return nil
}

// DiagnosticsDir is where the runner writes its own logs; failure messages
// point operators at it.
func DiagnosticsDir(installPath string) string {
	return filepath.Join(installPath, "_diag")
}
