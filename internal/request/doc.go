// Package request defines the lifecycle request model and its SQLite
// store. A request is created once, transitions state and step as jobs
// work on it, and is deleted when its terminal effect is durable;
// error and aborted requests are retained as the audit trail for retry
// and explicit deletion.
package request
