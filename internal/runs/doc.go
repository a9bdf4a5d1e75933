// Package runs is the operator-facing record of orchestrator executions.
// Each pipeline run gets one durable row tracking its lifecycle from queued
// through a terminal status. The store guarantees at most one run is running
// at a time and that terminal transitions are irreversible.
package runs
