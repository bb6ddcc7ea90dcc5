package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/oshokin/runner-provisioner/internal/logger"
	"github.com/oshokin/runner-provisioner/internal/sysops"
)

// errGitInstallFailed is returned when the Git installer exits non-zero.
var errGitInstallFailed = errors.New("git installer failed")

// setupOptions are the fixed answer-file values fed to the Git for Windows
// installer. Only the install directory is taken from configuration; the
// rest is a known-good combination for unattended CI hosts.
type setupOptions struct {
	// Dir is the installation directory.
	Dir string
	// Editor is the default editor choice presented by the installer.
	Editor string
	// CRLF is the line-ending conversion policy.
	CRLF string
	// Symlinks controls symlink support (disabled: CI jobs run without
	// elevation and developer mode covers the cases that need links).
	Symlinks string
	// CredentialManager controls Git Credential Manager integration.
	CredentialManager string
	// SSH is the bundled SSH client choice.
	SSH string
	// DefaultBranch is the initial branch name policy (empty = Git default).
	DefaultBranch string
	// PullBehavior is the default pull mode.
	PullBehavior string
	// Terminal is the console host used by the bundled bash.
	Terminal string
}

// defaultSetupOptions returns the fixed answer-file values.
func defaultSetupOptions(installDir string) setupOptions {
	return setupOptions{
		Dir:               installDir,
		Editor:            "Notepad",
		CRLF:              "CRLFCommitAsIs",
		Symlinks:          "Disabled",
		CredentialManager: "Enabled",
		SSH:               "OpenSSH",
		DefaultBranch:     " ",
		PullBehavior:      "FFOnly",
		Terminal:          "ConHost",
	}
}

// answerFileTemplate renders the Inno Setup LOADINF answer file.
var answerFileTemplate = template.Must(template.New("inf").Parse(`[Setup]
Dir={{ .Dir }}
EditorOption={{ .Editor }}
CRLFOption={{ .CRLF }}
EnableSymlinks={{ .Symlinks }}
UseCredentialManager={{ .CredentialManager }}
SSHOption={{ .SSH }}
DefaultBranchOption={{ .DefaultBranch }}
GitPullBehaviorOption={{ .PullBehavior }}
BashTerminalOption={{ .Terminal }}
`))

// GitInstaller drives a verified Git for Windows installer binary through
// an unattended installation.
type GitInstaller struct {
	runner sysops.ProcessRunner
}

// NewGitInstaller returns a GitInstaller using the provided ProcessRunner.
func NewGitInstaller(runner sysops.ProcessRunner) *GitInstaller {
	return &GitInstaller{runner: runner}
}

// Install writes the fixed answer file to a temporary location, runs the
// installer silently with no restart, and checks its exit code. The answer
// file is removed once the installer has consumed it.
func (g *GitInstaller) Install(ctx context.Context, installerPath, installDir string) error {
	answerFile, err := writeAnswerFile(installDir)
	if err != nil {
		return err
	}

	defer func() {
		_ = os.Remove(answerFile)
	}()

	logger.InfoKV(ctx, "Running Git installer unattended",
		"installer", installerPath, "answer_file", answerFile)

	args := []string{"/VERYSILENT", "/NORESTART", "/NOCANCEL", "/LOADINF=" + answerFile}

	exitCode, output, err := g.runner.Run(ctx, installerPath, args...)
	if err != nil {
		return fmt.Errorf("run git installer: %w", err)
	}

	if exitCode != 0 {
		return fmt.Errorf("%w: exit code %d: %s",
			errGitInstallFailed, exitCode, strings.TrimSpace(output))
	}

	return nil
}

// writeAnswerFile renders the fixed setup options to a temporary INF file
// and returns its path.
func writeAnswerFile(installDir string) (string, error) {
	answerFile, err := os.CreateTemp("", "git-setup-*.inf")
	if err != nil {
		return "", fmt.Errorf("create answer file: %w", err)
	}

	renderErr := answerFileTemplate.Execute(answerFile, defaultSetupOptions(installDir))
	closeErr := answerFile.Close()

	if renderErr != nil {
		_ = os.Remove(answerFile.Name())
		return "", fmt.Errorf("render answer file: %w", renderErr)
	}

	if closeErr != nil {
		_ = os.Remove(answerFile.Name())
		return "", fmt.Errorf("close answer file: %w", closeErr)
	}

	return answerFile.Name(), nil
}
