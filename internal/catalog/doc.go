// Package catalog holds the durable record of every discovered post and its
// per-phase processing state. The Store keeps the full snapshot in memory
// behind a single lock and persists it atomically as one JSON file;
// persistence is explicit and invoked by the orchestrator after each phase
// batch rather than per item.
package catalog
