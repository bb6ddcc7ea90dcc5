// Package sysops wraps the machine-wide mutable state touched during
// provisioning behind two narrow capabilities: ProcessRunner for external
// command execution with checked exit codes, and SystemConfigurator for
// environment variables, registry flags, scanner exclusions and the
// service manager. The real implementations shell out to stock Windows
// tooling; tests substitute recording fakes.
package sysops
