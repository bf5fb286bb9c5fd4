// Package plans is the static catalog of subscription plan tiers for the
// Warely inventory platform: per-dimension resource limits, feature flags, and
// prices. The catalog is immutable after loading; everything here is pure
// lookup with no tenant state.
package plans
