// Package config loads, normalizes, and validates data-scanner configuration.
//
// It supplies defaults rooted in the XDG base directories, expands user paths
// (including tilde shortcuts), reads TOML files, and honours environment
// overrides such as DATASCANNER_SCANNER_DIR. The Config type gathers every
// knob the scanner, the three worker pools, and the CLI need.
//
// Validate only checks that values are well formed. CheckDirectories performs
// the startup probe that every configured directory exists and is usable; the
// daemon refuses to start when it fails.
package config
