// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a sane console encoder,
//   - an optional rotating file sink for unattended provisioning runs,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Every pipeline step accepts a context and extracts the logger from it,
// so the provisioning narration stays scoped and structured.
package logger
