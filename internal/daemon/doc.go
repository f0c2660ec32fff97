// Package daemon assembles the engine for long-running operation: one
// process owns the database, the broker connections, and the scheduler,
// guarded by a filesystem lock so only a single instance runs per data
// directory.
package daemon
