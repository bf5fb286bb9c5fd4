// Package logger builds configured log/slog loggers for the application.
// It supports JSON output for production log aggregation and text output for
// local development, plus small attribute helpers for common fields.
package logger
