package install

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestShutdownCommand builds the scheduled power-off invocation.
func TestShutdownCommand(t *testing.T) {
	t.Parallel()

	command := ShutdownCommand(60, "Runner job completed, powering off")
	require.Equal(t, []string{
		"shutdown.exe", "/s", "/t", "60", "/c", "Runner job completed, powering off",
	}, command)
}

// TestWriteShutdownHook generates a cmd script with the scheduled shutdown.
func TestWriteShutdownHook(t *testing.T) {
	t.Parallel()

	installPath := t.TempDir()

	scriptPath, err := WriteShutdownHook(installPath, 60, "Runner job completed, powering off")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(installPath, hookScriptName), scriptPath)

	contents, err := os.ReadFile(scriptPath)
	require.NoError(t, err)

	script := string(contents)
	require.Contains(t, script, "@echo off")
	require.Contains(t, script, `shutdown.exe /s /t 60 /c "Runner job completed, powering off"`)
}

// TestWriteShutdownHookBadPath reports unwritable destinations.
func TestWriteShutdownHookBadPath(t *testing.T) {
	t.Parallel()

	_, err := WriteShutdownHook(filepath.Join(t.TempDir(), "does", "not", "exist"), 60, "reason")
	require.Error(t, err)
}
