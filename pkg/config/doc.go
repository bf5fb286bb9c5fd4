// Package config loads application configuration from environment variables
// into tagged structs. A .env file in the working directory is loaded once,
// before the first parse, and is optional.
package config
