package core

import "net/http"

// Response is anything that can render itself to an HTTP response writer.
// Handlers return a Response instead of writing to the writer directly,
// which keeps status/encoding decisions in one place.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// ValidationError maps field names to their validation failure messages.
type ValidationError map[string][]string

// Error implements the error interface.
func (e ValidationError) Error() string {
	return "validation failed"
}
