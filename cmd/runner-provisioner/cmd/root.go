package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/runner-provisioner/internal/config"
	"github.com/oshokin/runner-provisioner/internal/install"
	"github.com/oshokin/runner-provisioner/internal/logger"
	"github.com/oshokin/runner-provisioner/internal/service/provision"
	"github.com/oshokin/runner-provisioner/internal/version"
)

// Exit codes reported to the orchestration layer. A missing runner service
// after configuration gets its own code so callers can tell "the machine
// is broken" apart from "the registration did not take effect".
const (
	exitCodeFailure             = 1
	exitCodeServiceRegistration = 2
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// logLevel is the minimum severity written to the log.
	logLevel string

	// logFilePath adds a rotating file sink next to the console output.
	logFilePath string

	// options collects the per-run inputs for the provisioning pipeline.
	options = provision.Options{ShowProgress: true}

	// rootCmd represents the base command that provisions the machine.
	rootCmd = &cobra.Command{
		Use:   "runner-provisioner",
		Short: "Provision a Windows machine as an ephemeral GitHub Actions runner",
		Long: "Prepares a freshly created Windows machine to serve exactly one CI job:\n" +
			"enables developer mode, excludes the build drive from malware scanning,\n" +
			"installs the latest Git for Windows after digest verification, and\n" +
			"registers the actions runner as an ephemeral Windows service that powers\n" +
			"the machine off once its job completes.",
		Args: cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			if err := setupLogger(); err != nil {
				return err
			}

			// Errors are logged by the service layer; silence cobra's echo.
			cobraCmd.SilenceUsage = true
			cobraCmd.SilenceErrors = true

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options.ConfigPath = configPath

			return provision.Run(ctx, &options)
		},
	}
)

// Execute runs the runner-provisioner CLI and exits with a non-zero status
// on error: 2 when the runner service never appeared, 1 otherwise.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, install.ErrServiceRegistrationFailed) {
			os.Exit(exitCodeServiceRegistration)
		}

		os.Exit(exitCodeFailure)
	}
}

// setupLogger applies the --log-level and --log-file flags to the global
// logger before any pipeline step runs.
func setupLogger() error {
	level, ok := logger.ParseLogLevel(logLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", logLevel)
	}

	if logFilePath != "" {
		logger.SetLogger(logger.NewWithFile(level, logFilePath))
		return nil
	}

	logger.SetLevel(level)

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&options.Token, "token", "t", "", "short-lived runner registration token")
	rootCmd.Flags().StringVarP(&options.RegistrationURL, "url", "u", "", "organization or repository registration URL")
	rootCmd.Flags().StringVarP(&options.RunnerName, "name", "n", "", "unique runner name within the registration scope")
	rootCmd.Flags().StringVarP(&options.RunnerPath, "runner-path", "p", `C:\r`, "short path where the runner is installed")
	rootCmd.Flags().BoolVar(&options.StopService, "stop-service", true, "stop the registered service so the machine can be deallocated")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "minimum logging level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&logFilePath, "log-file", "", "also write logs to this file with rotation")
}
