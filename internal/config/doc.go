// Package config loads, validates, and defaults the TOML configuration for
// the magpie CLI and daemon.
package config
