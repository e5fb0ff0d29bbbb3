// Package config loads, normalizes, and validates mmloader configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MATCHMINER_SERVER, MATCHMINER_TOKEN and ENVIRONMENT. The Config type
// centralizes every knob the CLI, watcher and launchers need so that the
// working directory and the ENVIRONMENT selector are passed explicitly to
// each component instead of being read from ambient process state.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
