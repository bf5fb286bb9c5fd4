// Package dailylimit implements a fixed-window counter keyed by UTC calendar
// day. It guards operations with a small per-day budget (such as resource
// swaps) rather than smoothing request rates: the counter resets at UTC
// midnight, not on a rolling window.
//
// The Limiter separates Status (peek) from Hit (consume) so callers can charge
// the budget only after the guarded operation actually succeeded.
package dailylimit
