// Package scheduler turns the request store into running jobs. Cron
// beats scan for schedulable work and hand bounded batches to a fixed
// worker pool; stopping the scheduler fires every outstanding job token
// and waits for the jobs to finalize.
package scheduler
