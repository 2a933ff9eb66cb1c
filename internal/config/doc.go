// Package config loads, normalizes, and validates meshpatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MESHPATCH_DATA_DIR. The Config type centralizes every knob the CLI and the
// patch engine need, so the data directory, matching thresholds, and base
// search roots are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
