// Package notifications publishes request completion events to NATS
// JetStream so downstream consumers can react to package mutations.
//
// Delivery failures are reported per request rather than failing the
// batch. The caller keeps the failed requests at the notify_error step
// and retries the announcement later without replaying the mutation.
package notifications
