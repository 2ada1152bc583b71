// Package logging provides structured logging for influxnorth.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error, fatal)
//   - A FATAL level for failures that abort an operation, without exiting
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error, fatal
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connected", "url", redacted)
//	logger.Fatal("unable to connect to influxdb", "error", err)
//
// # Security
//
// Never log secrets, tokens or passwords. URLs carrying credentials must be
// redacted before logging.
package logging
