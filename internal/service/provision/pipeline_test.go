package provision

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/runner-provisioner/internal/config"
	"github.com/oshokin/runner-provisioner/internal/fetch"
	"github.com/oshokin/runner-provisioner/internal/install"
	"github.com/oshokin/runner-provisioner/internal/release"
)

// fakeResolver replays a scripted asset or error.
type fakeResolver struct {
	asset release.Asset
	err   error
	calls int
}

func (f *fakeResolver) ResolveLatest(_ context.Context, _, _, _ string) (release.Asset, error) {
	f.calls++
	return f.asset, f.err
}

// fakeFetcher writes scripted payloads to the destination instead of
// hitting the network. Payloads are keyed by URL.
type fakeFetcher struct {
	payloads map[string][]byte
	err      error
	calls    int
}

func (f *fakeFetcher) Fetch(_ context.Context, url, destination, _ string) (fetch.Result, error) {
	f.calls++

	if f.err != nil {
		return fetch.Result{}, f.err
	}

	if err := os.WriteFile(destination, f.payloads[url], 0o755); err != nil {
		return fetch.Result{}, err
	}

	return fetch.Result{LocalPath: destination, Verified: true}, nil
}

// spyRunner records every spawned command.
type spyRunner struct {
	calls [][]string
}

func (s *spyRunner) Run(_ context.Context, name string, args ...string) (int, string, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	return 0, "", nil
}

// fakeSystem records SystemConfigurator calls.
type fakeSystem struct {
	envVars    map[string]string
	regFlags   map[string]uint32
	exclusions []string
	services   []string
	stopped    []string
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{
		envVars:  make(map[string]string),
		regFlags: make(map[string]uint32),
	}
}

func (f *fakeSystem) SetEnvironmentVariable(_ context.Context, name, value string) error {
	f.envVars[name] = value
	return nil
}

func (f *fakeSystem) SetRegistryFlag(_ context.Context, keyPath, valueName string, value uint32) error {
	f.regFlags[keyPath+`\`+valueName] = value
	return nil
}

func (f *fakeSystem) AddScanExclusion(_ context.Context, path string) error {
	f.exclusions = append(f.exclusions, path)
	return nil
}

func (f *fakeSystem) QueryServices(_ context.Context, _ string) ([]string, error) {
	return f.services, nil
}

func (f *fakeSystem) StopService(_ context.Context, name string) error {
	f.stopped = append(f.stopped, name)
	return nil
}

// runnerArchive builds a minimal valid runner zip in memory.
func runnerArchive(t *testing.T) []byte {
	t.Helper()

	var buffer bytes.Buffer

	writer := zip.NewWriter(&buffer)

	entry, err := writer.Create("config.cmd")
	require.NoError(t, err)
	_, err = entry.Write([]byte("@echo configuring"))
	require.NoError(t, err)

	require.NoError(t, writer.Close())

	return buffer.Bytes()
}

func testOptions(t *testing.T) *Options {
	t.Helper()

	return &Options{
		Token:           "AAAAREGTOKEN",
		RegistrationURL: "https://github.com/example-org",
		RunnerName:      "ci-win-01",
		RunnerPath:      filepath.Join(t.TempDir(), "r"),
		StopService:     true,
	}
}

func testDigest(payload []byte) string {
	digest := sha256.Sum256(payload)
	return strings.ToUpper(hex.EncodeToString(digest[:]))
}

// TestPipelineHappyPath walks the whole sequence against fakes.
func TestPipelineHappyPath(t *testing.T) {
	t.Parallel()

	installerPayload := []byte("git installer bytes")
	archivePayload := runnerArchive(t)

	cfg := config.Default()
	cfg.RunnerArchiveSHA256 = testDigest(archivePayload)

	resolver := &fakeResolver{
		asset: release.Asset{
			Name:            "Git-2.44.0-64-bit.exe",
			DownloadURL:     "https://dl.example.com/git.exe",
			ExpectedHashHex: testDigest(installerPayload),
		},
	}
	fetcher := &fakeFetcher{payloads: map[string][]byte{
		"https://dl.example.com/git.exe": installerPayload,
		cfg.RunnerArchiveURL:             archivePayload,
	}}
	runner := new(spyRunner)
	system := newFakeSystem()
	system.services = []string{"actions.runner.example-org.ci-win-01"}

	opts := testOptions(t)
	p := newPipeline(cfg, opts, pipelineDeps{
		resolver: resolver,
		fetcher:  fetcher,
		runner:   runner,
		system:   system,
	})

	require.NoError(t, p.Run(context.Background()))

	// Environment toggles applied first.
	require.Equal(t, uint32(1), system.regFlags[`HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\AppModelUnlock\AllowDevelopmentWithoutDevLicense`])
	require.Equal(t, []string{`C:\`}, system.exclusions)

	// One resolve, two verified downloads.
	require.Equal(t, 1, resolver.calls)
	require.Equal(t, 2, fetcher.calls)

	// Installer ran silently, then config.cmd registered the runner.
	require.Len(t, runner.calls, 2)
	require.Contains(t, runner.calls[0][0], "Git-2.44.0-64-bit.exe")
	require.Contains(t, runner.calls[0], "/VERYSILENT")
	require.Equal(t, filepath.Join(opts.RunnerPath, "config.cmd"), runner.calls[1][0])
	require.Contains(t, runner.calls[1], "--ephemeral")
	require.Contains(t, runner.calls[1], "--runasservice")
	require.Contains(t, runner.calls[1], "AAAAREGTOKEN")

	// The archive landed extracted in the runner path.
	contents, err := os.ReadFile(filepath.Join(opts.RunnerPath, "config.cmd"))
	require.NoError(t, err)
	require.Equal(t, "@echo configuring", string(contents))

	// Hook script written and published machine-wide.
	scriptPath := system.envVars[install.HookEnvironmentVariable]
	require.NotEmpty(t, scriptPath)
	script, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	require.Contains(t, string(script), "shutdown.exe /s /t 60")

	// Default behavior stops the service for deallocation.
	require.Equal(t, []string{"actions.runner.example-org.ci-win-01"}, system.stopped)
}

// TestPipelineKeepsServiceRunning covers stop-service=false: the service
// stays in a running state after the pipeline completes.
func TestPipelineKeepsServiceRunning(t *testing.T) {
	t.Parallel()

	archivePayload := runnerArchive(t)

	cfg := config.Default()
	cfg.RunnerArchiveSHA256 = testDigest(archivePayload)

	resolver := &fakeResolver{asset: release.Asset{
		Name:            "Git-2.44.0-64-bit.exe",
		DownloadURL:     "https://dl.example.com/git.exe",
		ExpectedHashHex: strings.Repeat("AB", 32),
	}}
	fetcher := &fakeFetcher{payloads: map[string][]byte{
		"https://dl.example.com/git.exe": []byte("git installer bytes"),
		cfg.RunnerArchiveURL:             archivePayload,
	}}
	system := newFakeSystem()
	system.services = []string{"actions.runner.example-org.ci-win-01"}

	opts := testOptions(t)
	opts.StopService = false

	p := newPipeline(cfg, opts, pipelineDeps{
		resolver: resolver,
		fetcher:  fetcher,
		runner:   new(spyRunner),
		system:   system,
	})

	require.NoError(t, p.Run(context.Background()))
	require.Empty(t, system.stopped)
}

// TestPipelineAssetNotFound aborts before anything is downloaded.
func TestPipelineAssetNotFound(t *testing.T) {
	t.Parallel()

	fetcher := new(fakeFetcher)
	runner := new(spyRunner)

	p := newPipeline(config.Default(), testOptions(t), pipelineDeps{
		resolver: &fakeResolver{err: release.ErrAssetNotFound},
		fetcher:  fetcher,
		runner:   runner,
		system:   newFakeSystem(),
	})

	err := p.Run(context.Background())
	require.ErrorIs(t, err, release.ErrAssetNotFound)
	require.Contains(t, err.Error(), "resolve-git-installer")

	// No download was attempted, no process was spawned.
	require.Zero(t, fetcher.calls)
	require.Empty(t, runner.calls)
}

// TestPipelineIntegrityCheckFailed uses the real fetcher against a fixture
// download server: a tampered payload must never reach the installer.
func TestPipelineIntegrityCheckFailed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tampered installer bytes"))
	}))
	t.Cleanup(server.Close)

	resolver := &fakeResolver{asset: release.Asset{
		Name:            "Git-2.44.0-64-bit.exe",
		DownloadURL:     server.URL,
		ExpectedHashHex: strings.Repeat("BB", 32),
	}}
	runner := new(spyRunner)

	p := newPipeline(config.Default(), testOptions(t), pipelineDeps{
		resolver: resolver,
		fetcher:  fetch.NewFetcher(),
		runner:   runner,
		system:   newFakeSystem(),
	})

	err := p.Run(context.Background())
	require.ErrorIs(t, err, fetch.ErrIntegrityCheckFailed)
	require.Contains(t, err.Error(), "fetch-git-installer")

	// The installer process was never spawned.
	require.Empty(t, runner.calls)
}

// TestPipelineServiceRegistrationFailed covers the documented fatal
// post-condition: zero matching services after configuration.
func TestPipelineServiceRegistrationFailed(t *testing.T) {
	t.Parallel()

	archivePayload := runnerArchive(t)

	cfg := config.Default()
	cfg.RunnerArchiveSHA256 = testDigest(archivePayload)

	resolver := &fakeResolver{asset: release.Asset{
		Name:            "Git-2.44.0-64-bit.exe",
		DownloadURL:     "https://dl.example.com/git.exe",
		ExpectedHashHex: strings.Repeat("AB", 32),
	}}
	fetcher := &fakeFetcher{payloads: map[string][]byte{
		"https://dl.example.com/git.exe": []byte("git installer bytes"),
		cfg.RunnerArchiveURL:             archivePayload,
	}}
	system := newFakeSystem() // No services appear.

	opts := testOptions(t)
	p := newPipeline(cfg, opts, pipelineDeps{
		resolver: resolver,
		fetcher:  fetcher,
		runner:   new(spyRunner),
		system:   system,
	})

	err := p.Run(context.Background())
	require.ErrorIs(t, err, install.ErrServiceRegistrationFailed)
	require.Contains(t, err.Error(), "verify-service")
	require.Contains(t, err.Error(), install.DiagnosticsDir(opts.RunnerPath))
	require.Empty(t, system.stopped)
}
