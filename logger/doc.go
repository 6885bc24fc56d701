// Package logger provides structured logging for idresolver using zerolog.
//
// It supports JSON and console output, level configuration, and
// component-scoped loggers with structured fields. Loggers enriched with
// WithContext pick up the active OpenTelemetry trace and span ids.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("resolution")
//	log.Info("user bound", logger.Fields(logger.FieldLogin, "alice", logger.FieldRealm, "corp"))
package logger
