package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/runner-provisioner/internal/config"
	"github.com/oshokin/runner-provisioner/internal/fetch"
	"github.com/oshokin/runner-provisioner/internal/logger"
	"github.com/oshokin/runner-provisioner/internal/release"
	"github.com/oshokin/runner-provisioner/internal/sysops"
)

var (
	errProvisionerAlreadyRunning = errors.New("the provisioner is already running")
	errMissingToken              = errors.New("registration token must be provided")
	errMissingURL                = errors.New("registration URL must be provided")
	errMissingName               = errors.New("runner name must be provided")
	errMissingPath               = errors.New("runner installation path must be provided")
)

// Options are inputs accepted by the provisioner entry point.
type Options struct {
	// ConfigPath is the optional path to settings YAML file.
	ConfigPath string
	// Token is the short-lived, single-use runner registration token.
	Token string
	// RegistrationURL is the org- or repo-scope registration URL.
	RegistrationURL string
	// RunnerName must be unique in the registration scope.
	RunnerName string
	// RunnerPath is where the runner is installed. Keep it short: the
	// runner nests deep working directories under it and Windows paths
	// overflow fast.
	RunnerPath string
	// StopService leaves the registered service stopped so the host can
	// be deallocated until a job needs it.
	StopService bool
	// ShowProgress draws console progress bars during downloads.
	ShowProgress bool
}

// validate checks the per-run inputs. Everything else comes from settings.
func (o *Options) validate() error {
	if strings.TrimSpace(o.Token) == "" {
		return errMissingToken
	}

	if strings.TrimSpace(o.RegistrationURL) == "" {
		return errMissingURL
	}

	if strings.TrimSpace(o.RunnerName) == "" {
		return errMissingName
	}

	if strings.TrimSpace(o.RunnerPath) == "" {
		return errMissingPath
	}

	return nil
}

// Run executes the provisioning pipeline and is the public entry point for
// the CLI. It wires the real resolver, fetcher and OS capabilities; tests
// drive the pipeline directly with fakes.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "runner-provisioner")

	if err := opts.validate(); err != nil {
		return err
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	guard, err := acquireRunGuard(ctx)
	if err != nil {
		return err
	}

	defer guard.release(ctx)

	processRunner := sysops.NewExecRunner()
	system := sysops.NewWindowsConfigurator(processRunner)

	p := newPipeline(cfg, opts, pipelineDeps{
		resolver: release.NewResolver(cfg.ResolveTimeout),
		fetcher:  fetch.NewFetcher(fetch.WithProgress(opts.ShowProgress)),
		runner:   processRunner,
		system:   system,
	})

	if err := p.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Provisioning failed", "error", err)
		return err
	}

	logger.Info(ctx, "Provisioning completed, the machine is ready to be powered down")

	return nil
}

// stepError ties a failure to the pipeline step that produced it, so fatal
// errors surface the failure kind, a human message and the originating step.
func stepError(step string, err error) error {
	return fmt.Errorf("step %s: %w", step, err)
}
