package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds provisioning parameters that rarely change between runs.
// Registration token, URL and runner name are deliberately excluded:
// those are per-run secrets and identities passed on the command line.
type Config struct {
	// ReleaseOwner is the GitHub owner of the Git for Windows releases.
	ReleaseOwner string `yaml:"release_owner"`
	// ReleaseRepo is the GitHub repository of the Git for Windows releases.
	ReleaseRepo string `yaml:"release_repo"`
	// AssetPattern is a regular expression selecting the installer asset by name.
	AssetPattern string `yaml:"asset_pattern"`
	// ResolveTimeout bounds the release metadata call.
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
	// RunnerArchiveURL is the actions-runner zip download location.
	RunnerArchiveURL string `yaml:"runner_archive_url"`
	// RunnerArchiveSHA256 is the pinned digest of the runner archive.
	// The runner release channel does not publish hashes in its release
	// notes, so the value is carried in configuration instead.
	RunnerArchiveSHA256 string `yaml:"runner_archive_sha256"`
	// RunnerLabels is the comma-separated label set passed to config.cmd.
	RunnerLabels string `yaml:"runner_labels"`
	// GitInstallDir is where the Git installer is told to install.
	GitInstallDir string `yaml:"git_install_dir"`
	// ScanExclusionRoot is the filesystem root excluded from Defender scanning.
	ScanExclusionRoot string `yaml:"scan_exclusion_root"`
	// ShutdownDelaySeconds is the cancel-safe window before the
	// job-completed hook powers the machine off.
	ShutdownDelaySeconds int `yaml:"shutdown_delay_seconds"`
	// ShutdownReason is the human-readable reason shown by shutdown.exe.
	ShutdownReason string `yaml:"shutdown_reason"`
	// ServicePrefix is the service name prefix the runner registers under.
	ServicePrefix string `yaml:"service_prefix"`
}

const (
	// DefaultConfigFilename is the default filename for provisioner settings.
	DefaultConfigFilename = "runner-provisioner-settings.yaml"

	// DefaultResolveTimeout bounds the release metadata endpoint call.
	DefaultResolveTimeout = 10 * time.Second

	// DefaultShutdownDelaySeconds leaves time for in-flight log flushing
	// before the job-completed hook powers the machine off.
	DefaultShutdownDelaySeconds = 60

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	defaultReleaseOwner      = "git-for-windows"
	defaultReleaseRepo       = "git"
	defaultAssetPattern      = `^Git-.*-64-bit\.exe$`
	defaultRunnerArchiveURL  = "https://github.com/actions/runner/releases/download/v2.317.0/actions-runner-win-x64-2.317.0.zip"
	defaultRunnerArchiveSHA  = "A74DCD1E8D27E2A6B1BC61F1BCE2B18F2E5CBBFE7E1D7B9AD8930AFA0F38E17D"
	defaultRunnerLabels      = "self-hosted,windows,x64,ephemeral"
	defaultGitInstallDir     = `C:\Program Files\Git`
	defaultScanExclusionRoot = `C:\`
	defaultShutdownReason    = "Runner job completed, powering off"
	defaultServicePrefix     = "actions.runner."
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errBadArchiveHash is returned when the pinned runner archive digest
	// is not a 64-character hexadecimal string.
	errBadArchiveHash = errors.New("runner archive hash must be a 64-character hex digest")

	// hashHexPattern matches a SHA-256 digest in hexadecimal form.
	hashHexPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// Default returns a Config populated with the stock provisioning values.
func Default() *Config {
	return &Config{
		ReleaseOwner:         defaultReleaseOwner,
		ReleaseRepo:          defaultReleaseRepo,
		AssetPattern:         defaultAssetPattern,
		ResolveTimeout:       DefaultResolveTimeout,
		RunnerArchiveURL:     defaultRunnerArchiveURL,
		RunnerArchiveSHA256:  defaultRunnerArchiveSHA,
		RunnerLabels:         defaultRunnerLabels,
		GitInstallDir:        defaultGitInstallDir,
		ScanExclusionRoot:    defaultScanExclusionRoot,
		ShutdownDelaySeconds: DefaultShutdownDelaySeconds,
		ShutdownReason:       defaultShutdownReason,
		ServicePrefix:        defaultServicePrefix,
	}
}

// Load reads configuration from the provided path and validates essential fields.
// An empty path, or an absent file at the default path, yields the defaults
// unchanged so the binary runs flag-only; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && filepath.Base(path) == DefaultConfigFilename {
			return cfg, nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting,
// filling defaults for anything left empty.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	defaults := Default()

	if cfg.ReleaseOwner == "" {
		cfg.ReleaseOwner = defaults.ReleaseOwner
	}

	if cfg.ReleaseRepo == "" {
		cfg.ReleaseRepo = defaults.ReleaseRepo
	}

	if cfg.AssetPattern == "" {
		cfg.AssetPattern = defaults.AssetPattern
	}

	if _, err := regexp.Compile(cfg.AssetPattern); err != nil {
		return fmt.Errorf("invalid asset pattern: %w", err)
	}

	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}

	if cfg.RunnerArchiveURL == "" {
		cfg.RunnerArchiveURL = defaults.RunnerArchiveURL
	}

	if _, err := url.ParseRequestURI(cfg.RunnerArchiveURL); err != nil {
		return fmt.Errorf("invalid runner archive URL: %w", err)
	}

	if cfg.RunnerArchiveSHA256 == "" {
		cfg.RunnerArchiveSHA256 = defaults.RunnerArchiveSHA256
	}

	if !hashHexPattern.MatchString(cfg.RunnerArchiveSHA256) {
		return errBadArchiveHash
	}

	if cfg.RunnerLabels == "" {
		cfg.RunnerLabels = defaults.RunnerLabels
	}

	if cfg.GitInstallDir == "" {
		cfg.GitInstallDir = defaults.GitInstallDir
	}

	if cfg.ScanExclusionRoot == "" {
		cfg.ScanExclusionRoot = defaults.ScanExclusionRoot
	}

	if cfg.ShutdownDelaySeconds <= 0 {
		cfg.ShutdownDelaySeconds = DefaultShutdownDelaySeconds
	}

	if cfg.ShutdownReason == "" {
		cfg.ShutdownReason = defaults.ShutdownReason
	}

	if cfg.ServicePrefix == "" {
		cfg.ServicePrefix = defaults.ServicePrefix
	}

	return nil
}
