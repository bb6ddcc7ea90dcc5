package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/runner-provisioner/internal/logger"
)

const (
	// markerFilename marks that a provisioner is running right now to
	// avoid two runs fighting over the same machine-wide state.
	markerFilename = "runner-provisioner-marker.bin"

	// baseExecutable is our binary name; the platform helper appends the
	// extension when needed.
	baseExecutable = "runner-provisioner"
)

// runGuard holds the marker file for the duration of a run.
type runGuard struct {
	markerPath string
}

// acquireRunGuard refuses to start when another provisioner is alive.
// A marker without a living sibling process is treated as a leftover from
// a crashed run and is removed.
func acquireRunGuard(ctx context.Context) (*runGuard, error) {
	markerPath := filepath.Join(os.TempDir(), markerFilename)

	if _, err := os.Stat(markerPath); err == nil {
		logger.Info(ctx, "Found a provisioner marker, checking for a running sibling")

		alive, err := siblingProcessAlive()
		if err != nil {
			return nil, fmt.Errorf("inspect processes: %w", err)
		}

		if alive {
			return nil, errProvisionerAlreadyRunning
		}

		logger.Info(ctx, "The marker is stale, removing it")

		if err := os.Remove(markerPath); err != nil {
			return nil, fmt.Errorf("remove stale marker: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read marker: %w", err)
	}

	marker, err := os.Create(markerPath)
	if err != nil {
		return nil, fmt.Errorf("create marker: %w", err)
	}

	if err := marker.Close(); err != nil {
		return nil, fmt.Errorf("close marker: %w", err)
	}

	return &runGuard{markerPath: markerPath}, nil
}

// release drops the marker. Best-effort: a leftover marker is recovered on
// the next run via the process check.
func (g *runGuard) release(ctx context.Context) {
	if err := os.Remove(g.markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf(ctx, "Could not remove marker %s: %v", g.markerPath, err)
	}
}

// siblingProcessAlive reports whether another provisioner process exists.
func siblingProcessAlive() (bool, error) {
	processList, err := ps.Processes()
	if err != nil {
		return false, err
	}

	thisProcessID := os.Getpid()
	executable := provisionerExecutable()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() == executable {
			return true, nil
		}
	}

	return false, nil
}

// provisionerExecutable returns the binary name for the current platform.
func provisionerExecutable() string {
	if strings.Contains(strings.ToLower(runtime.GOOS), "windows") {
		return baseExecutable + ".exe"
	}

	return baseExecutable
}
