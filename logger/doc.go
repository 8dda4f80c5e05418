// Package logger provides structured logging for dataflow pipelines
// using zerolog.
//
// It supports JSON and console output, log level configuration, and
// component-scoped loggers with structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("dataflow")
//	log.Info("pipeline closed", logger.Fields(logger.FieldPipelineID, id))
package logger
