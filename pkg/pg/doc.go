// Package pg bootstraps the PostgreSQL layer: a pgx/v5 connection pool with
// startup retries, goose schema migrations routed through the application
// logger, a health check closure, and a few pgx error classification helpers.
package pg
