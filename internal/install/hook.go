package install

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// HookEnvironmentVariable is read by the actions runner; the script it
	// points at runs when a unit of work completes.
	HookEnvironmentVariable = "ACTIONS_RUNNER_HOOK_JOB_COMPLETED"

	// hookScriptName is the generated lifecycle hook file.
	hookScriptName = "job-completed-hook.cmd"

	// hookScriptMode keeps the generated script executable.
	hookScriptMode os.FileMode = 0o755
)

// ShutdownCommand builds the argument vector that schedules a power-off
// after delaySeconds with a human-readable reason. The delay gives the
// cancel-safe window in-flight log flushing needs before the machine goes
// away; `shutdown.exe /a` within that window aborts it.
func ShutdownCommand(delaySeconds int, reason string) []string {
	return []string{
		"shutdown.exe",
		"/s",
		"/t", fmt.Sprintf("%d", delaySeconds),
		"/c", reason,
	}
}

// WriteShutdownHook generates the job-completed hook script inside
// installPath and returns the script's path. The script only schedules the
// shutdown; the runner service deregisters itself because it was
// configured as ephemeral.
func WriteShutdownHook(installPath string, delaySeconds int, reason string) (string, error) {
	command := ShutdownCommand(delaySeconds, reason)

	// Quote the reason for cmd.exe; the rest of the arguments are plain.
	quoted := append([]string(nil), command[:len(command)-1]...)
	quoted = append(quoted, fmt.Sprintf("%q", command[len(command)-1]))

	var builder strings.Builder

	builder.WriteString("@echo off\r\n")
	builder.WriteString("rem Scheduled power-off once the single runner job has completed.\r\n")
	builder.WriteString(strings.Join(quoted, " "))
	builder.WriteString("\r\n")

	scriptPath := filepath.Join(installPath, hookScriptName)
	if err := os.WriteFile(scriptPath, []byte(builder.String()), hookScriptMode); err != nil {
		return "", fmt.Errorf("write hook script: %w", err)
	}

	return scriptPath, nil
}
