// Package fetch downloads binary artifacts and verifies their integrity.
//
// Every download streams a SHA-256 digest over the content as it is
// written, then compares it (case-insensitively) to the publisher-declared
// value before the artifact may be used. A failed check leaves the partial
// download on disk for forensic inspection and aborts the pipeline.
package fetch
