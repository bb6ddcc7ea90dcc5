// Package config defines provisioning settings and provides helpers to
// load, validate and save them in YAML format.
//
// The Config type carries the release endpoint coordinates, the pinned
// runner archive digest and the fixed installation options. Every field
// has a working default, so the settings file is optional.
package config
