// Package update implements the mutation steps a runner job folds a
// package's pending tasks through. Each step family handles one closed
// category of task types and leaves the draft untouched on rejection.
package update
