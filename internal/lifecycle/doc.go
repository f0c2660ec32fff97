// Package lifecycle exposes the engine's bulk operations to the daemon
// and CLI: registering creator requests and running the request-store
// maintenance jobs.
package lifecycle
