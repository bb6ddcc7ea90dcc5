// Package release resolves a downloadable installer asset from GitHub
// release metadata.
//
// Git for Windows publishes per-file SHA-256 digests as a prose table
// inside the release notes body rather than as separate checksum assets,
// so the resolver pairs asset selection (first name-pattern match, in the
// order the API lists assets) with ExtractHash, a pure text scan over the
// notes. Resolution is a single bounded network call with no retries.
package release
