// Package logging builds the process-wide slog logger and defines the
// standardized attribute keys shared by jobs, stores, and service
// clients. Console output targets operators; JSON output targets log
// ingestion.
package logging
