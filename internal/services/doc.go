// Package services provides shared error classification and context
// annotation helpers used across pipeline phases and external clients.
package services
