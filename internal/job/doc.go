// Package job implements the lifecycle engine's units of work: creator
// jobs fanning bulk operations into per-package requests, runners
// replaying those requests against the catalog, and the retry and
// cleanup jobs operating on the request store itself.
//
// Jobs share a discipline: cooperative cancellation tokens polled at
// page and group boundaries, per-item failures recorded on the item
// without stopping the batch, and store or transport failures failing
// the run wholesale. Side effects and persistence are deferred to a
// single finalization pass so an interrupted run leaves only whole
// groups behind.
package job
