// Package logging configures slog for the CLI and daemon, providing a
// console handler for interactive use, a JSON handler for log files, typed
// attribute helpers, and standardized field keys shared across components.
package logging
