// Package redis connects to a Redis server with startup retries and exposes a
// health check closure for readiness probes.
package redis
