// Package httpserver wraps http.Server with graceful shutdown on context
// cancellation or SIGINT/SIGTERM, functional options, and health check
// handlers for liveness and readiness probes.
package httpserver
