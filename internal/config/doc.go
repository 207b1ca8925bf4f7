// Package config loads, normalizes, and validates examflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// EXAMFLOW_DATA_DIR and EXAMFLOW_LOG_LEVEL. The Config type centralizes every
// knob the scheduler, workflow controller and CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
