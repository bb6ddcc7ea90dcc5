package sysops

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DeveloperModeKeyPath is the registry key carrying the Windows
	// developer mode toggle. Developer mode is required for symlink
	// support without elevation.
	DeveloperModeKeyPath = `HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\AppModelUnlock`
	// DeveloperModeValueName is the DWORD value enabling developer mode.
	DeveloperModeValueName = "AllowDevelopmentWithoutDevLicense"
)

// errCommandFailed is returned when an OS configuration command exits non-zero.
var errCommandFailed = errors.New("system command failed")

// SystemConfigurator abstracts the machine-wide mutable state the
// provisioner touches: environment variables, registry, the malware
// scanner and the service manager. Tests inject a recording fake to assert
// calls without touching a real OS.
type SystemConfigurator interface {
	// SetEnvironmentVariable sets a machine-scoped environment variable.
	SetEnvironmentVariable(ctx context.Context, name, value string) error
	// SetRegistryFlag writes a DWORD registry value, creating the key if
	// needed. Writing an already-set value is a no-op by construction.
	SetRegistryFlag(ctx context.Context, keyPath, valueName string, value uint32) error
	// AddScanExclusion excludes a filesystem path from on-access malware
	// scanning. Excluding an already-excluded path is a no-op.
	AddScanExclusion(ctx context.Context, path string) error
	// QueryServices returns the names of installed services whose name
	// starts with the given prefix.
	QueryServices(ctx context.Context, namePrefix string) ([]string, error)
	// StopService stops the named service. It stays registered and
	// auto-starts on the next boot.
	StopService(ctx context.Context, name string) error
}

// WindowsConfigurator implements SystemConfigurator by shelling out to the
// stock Windows tooling (setx, reg.exe, PowerShell). Each call blocks until
// the command exits and its exit code is checked.
type WindowsConfigurator struct {
	runner ProcessRunner
}

// NewWindowsConfigurator returns a SystemConfigurator driving the real OS
// through the provided ProcessRunner.
func NewWindowsConfigurator(runner ProcessRunner) *WindowsConfigurator {
	return &WindowsConfigurator{runner: runner}
}

// SetEnvironmentVariable sets a machine-wide variable via setx /M.
// The value becomes visible to services started after this call.
func (c *WindowsConfigurator) SetEnvironmentVariable(ctx context.Context, name, value string) error {
	return c.runChecked(ctx, "setx", name, value, "/M")
}

// SetRegistryFlag writes a REG_DWORD value via reg.exe. The /f flag makes
// the write idempotent: re-setting an existing value succeeds silently.
func (c *WindowsConfigurator) SetRegistryFlag(ctx context.Context, keyPath, valueName string, value uint32) error {
	return c.runChecked(ctx, "reg.exe", "add", keyPath,
		"/t", "REG_DWORD", "/f",
		"/v", valueName,
		"/d", strconv.FormatUint(uint64(value), 10))
}

// AddScanExclusion excludes a path from Windows Defender on-access scanning.
// Add-MpPreference tolerates paths that are already excluded.
func (c *WindowsConfigurator) AddScanExclusion(ctx context.Context, path string) error {
	return c.runPowerShell(ctx, fmt.Sprintf("Add-MpPreference -ExclusionPath '%s'", path))
}

// QueryServices lists installed service names matching prefix*.
func (c *WindowsConfigurator) QueryServices(ctx context.Context, namePrefix string) ([]string, error) {
	command := fmt.Sprintf(
		"Get-Service -Name '%s*' -ErrorAction SilentlyContinue | Select-Object -ExpandProperty Name",
		namePrefix)

	exitCode, output, err := c.runner.Run(ctx, "powershell.exe",
		"-NonInteractive", "-NoProfile", "-Command", command)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}

	if exitCode != 0 {
		return nil, fmt.Errorf("query services: exit code %d: %s: %w", exitCode, strings.TrimSpace(output), errCommandFailed)
	}

	var names []string

	for _, line := range strings.Split(output, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}

	return names, nil
}

// StopService stops the named service and waits for it to reach the
// stopped state.
func (c *WindowsConfigurator) StopService(ctx context.Context, name string) error {
	return c.runPowerShell(ctx, fmt.Sprintf("Stop-Service -Name '%s'", name))
}

func (c *WindowsConfigurator) runPowerShell(ctx context.Context, command string) error {
	return c.runChecked(ctx, "powershell.exe", "-NonInteractive", "-NoProfile", "-Command", command)
}

func (c *WindowsConfigurator) runChecked(ctx context.Context, name string, args ...string) error {
	exitCode, output, err := c.runner.Run(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", CommandLine(name, args...), err)
	}

	if exitCode != 0 {
		return fmt.Errorf("%s: exit code %d: %s: %w",
			CommandLine(name, args...), exitCode, strings.TrimSpace(output), errCommandFailed)
	}

	return nil
}
