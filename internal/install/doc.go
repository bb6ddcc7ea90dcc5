// Package install consumes verified artifacts: it drives the Git for
// Windows installer through an unattended run, expands the actions-runner
// archive, generates the job-completed shutdown hook, registers the runner
// as an ephemeral Windows service and confirms the service actually
// appeared. Only artifacts the fetcher verified may reach this package.
package install
