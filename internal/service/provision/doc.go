// Package provision orchestrates the whole runner provisioning pipeline:
// host environment toggles, verified downloads of the Git installer and
// the actions-runner archive, unattended installation, ephemeral service
// registration with its post-condition check, and the optional service
// stop that leaves the machine ready to be deallocated.
//
// The flow is strictly sequential with a fail-fast, no-retry policy; each
// fatal error names the step it originated from.
package provision
