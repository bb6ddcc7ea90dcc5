package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/runner-provisioner/internal/config"
	"github.com/oshokin/runner-provisioner/internal/fetch"
	"github.com/oshokin/runner-provisioner/internal/install"
	"github.com/oshokin/runner-provisioner/internal/logger"
	"github.com/oshokin/runner-provisioner/internal/release"
	"github.com/oshokin/runner-provisioner/internal/sysops"
)

// archiveFilename is the staging name for the downloaded runner archive.
const archiveFilename = "actions-runner-win-x64.zip"

// releaseResolver resolves an installer asset from release metadata.
type releaseResolver interface {
	ResolveLatest(ctx context.Context, owner, repo, pattern string) (release.Asset, error)
}

// artifactFetcher downloads and verifies one artifact.
type artifactFetcher interface {
	Fetch(ctx context.Context, url, destination, expectedHashHex string) (fetch.Result, error)
}

// pipelineDeps are the injectable capabilities of a pipeline run.
type pipelineDeps struct {
	resolver releaseResolver
	fetcher  artifactFetcher
	runner   sysops.ProcessRunner
	system   sysops.SystemConfigurator
}

// pipeline holds the state of a single provisioning run. Control flows top
// to bottom once; there are no retries and no branching back. It is
// intentionally unexported—call Run(ctx, Options) from callers.
type pipeline struct {
	cfg  *config.Config
	opts *Options
	deps pipelineDeps

	git   *install.GitInstaller
	agent *install.AgentInstaller

	stagingDir string // Where artifacts are downloaded before use.
}

func newPipeline(cfg *config.Config, opts *Options, deps pipelineDeps) *pipeline {
	return &pipeline{
		cfg:   cfg,
		opts:  opts,
		deps:  deps,
		git:   install.NewGitInstaller(deps.runner),
		agent: install.NewAgentInstaller(deps.runner, deps.system),
	}
}

// Run executes the provisioning sequence:
//  1. Enable developer mode and exclude the drive from malware scanning.
//  2. Resolve the Git for Windows installer asset and its digest.
//  3. Download and verify the installer, then install Git unattended.
//  4. Download and verify the runner archive (pinned digest) and extract it.
//  5. Wire the job-completed shutdown hook.
//  6. Register the runner as an ephemeral Windows service.
//  7. Confirm the service exists; optionally stop it for deallocation.
//
// Every failure is terminal. The staging directory is kept on failure so a
// rejected artifact can be inspected.
func (p *pipeline) Run(ctx context.Context) error {
	logger.Info(ctx, "Configuring the host environment")

	if err := p.configureEnvironment(ctx); err != nil {
		return stepError("configure-environment", err)
	}

	logger.Info(ctx, "Resolving the Git for Windows installer")

	asset, err := p.deps.resolver.ResolveLatest(ctx,
		p.cfg.ReleaseOwner, p.cfg.ReleaseRepo, p.cfg.AssetPattern)
	if err != nil {
		return stepError("resolve-git-installer", err)
	}

	logger.InfoKV(ctx, "Resolved installer asset",
		"name", asset.Name, "url", asset.DownloadURL, "sha256", asset.ExpectedHashHex)

	if p.stagingDir, err = os.MkdirTemp("", "runner-provisioner-"); err != nil {
		return stepError("prepare-staging", fmt.Errorf("create staging directory: %w", err))
	}

	logger.Info(ctx, "Downloading and verifying the Git installer")

	gitResult, err := p.deps.fetcher.Fetch(ctx,
		asset.DownloadURL, filepath.Join(p.stagingDir, asset.Name), asset.ExpectedHashHex)
	if err != nil {
		return stepError("fetch-git-installer", err)
	}

	logger.Info(ctx, "Installing Git unattended")

	if err := p.git.Install(ctx, gitResult.LocalPath, p.cfg.GitInstallDir); err != nil {
		return stepError("install-git", err)
	}

	logger.Info(ctx, "Downloading and verifying the runner archive")

	archiveResult, err := p.deps.fetcher.Fetch(ctx,
		p.cfg.RunnerArchiveURL, filepath.Join(p.stagingDir, archiveFilename), p.cfg.RunnerArchiveSHA256)
	if err != nil {
		return stepError("fetch-runner-archive", err)
	}

	logger.InfoKV(ctx, "Extracting the runner archive", "destination", p.opts.RunnerPath)

	if err := install.ExtractZip(archiveResult.LocalPath, p.opts.RunnerPath); err != nil {
		return stepError("extract-runner", err)
	}

	agentCfg := &install.AgentConfig{
		InstallPath:          p.opts.RunnerPath,
		Name:                 p.opts.RunnerName,
		Labels:               p.cfg.RunnerLabels,
		RegistrationURL:      p.opts.RegistrationURL,
		Token:                p.opts.Token,
		ShutdownDelaySeconds: p.cfg.ShutdownDelaySeconds,
		ShutdownReason:       p.cfg.ShutdownReason,
	}

	logger.Info(ctx, "Wiring the job-completed shutdown hook")

	if err := p.agent.RegisterJobCompletedHook(ctx, agentCfg); err != nil {
		return stepError("register-hook", err)
	}

	logger.Info(ctx, "Registering the runner as an ephemeral service")

	if err := p.agent.Configure(ctx, agentCfg); err != nil {
		return stepError("configure-runner", err)
	}

	serviceName, err := p.agent.VerifyServiceRegistered(ctx, agentCfg, p.cfg.ServicePrefix)
	if err != nil {
		return stepError("verify-service", err)
	}

	logger.InfoKV(ctx, "Runner service registered", "service", serviceName)

	if p.opts.StopService {
		logger.InfoKV(ctx, "Stopping the service until next boot", "service", serviceName)

		if err := p.agent.StopService(ctx, serviceName); err != nil {
			return stepError("stop-service", err)
		}
	}

	p.cleanupStaging(ctx)

	return nil
}

// configureEnvironment applies the idempotent host toggles required before
// any install step: the developer mode flag (symlink support) and a
// malware-scan exclusion that keeps on-access scanning out of the build
// tree. Both commands are idempotent; their results are checked and any
// failure aborts the run.
func (p *pipeline) configureEnvironment(ctx context.Context) error {
	if err := p.deps.system.SetRegistryFlag(ctx,
		sysops.DeveloperModeKeyPath, sysops.DeveloperModeValueName, 1); err != nil {
		return fmt.Errorf("enable developer mode: %w", err)
	}

	logger.InfoKV(ctx, "Excluding path from malware scanning", "path", p.cfg.ScanExclusionRoot)

	if err := p.deps.system.AddScanExclusion(ctx, p.cfg.ScanExclusionRoot); err != nil {
		return fmt.Errorf("add scan exclusion: %w", err)
	}

	return nil
}

// cleanupStaging drops downloaded artifacts after a fully successful run.
// On failure the staging directory is deliberately kept: a rejected
// artifact is evidence.
func (p *pipeline) cleanupStaging(ctx context.Context) {
	if p.stagingDir == "" {
		return
	}

	if err := os.RemoveAll(p.stagingDir); err != nil {
		logger.Warnf(ctx, "Could not remove staging directory %s: %v", p.stagingDir, err)
		return
	}

	logger.InfoKV(ctx, "Removed staging directory", "path", p.stagingDir)
}
