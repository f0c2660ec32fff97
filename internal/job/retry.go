package job

import (
	"context"
	"log/slog"

	"archon/internal/logging"
	"archon/internal/request"
	"archon/internal/services"
)

// Retry re-queues failed and aborted requests. The caller's filter is
// narrowed to those two states regardless of what it asked for, so a
// broad filter can never resurrect live or pending work.
type Retry struct {
	requests RequestStore
	pageSize int
	logger   *slog.Logger
}

// NewRetry builds a retry job over the request store.
func NewRetry(requests RequestStore, pageSize int, logger *slog.Logger) *Retry {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Retry{
		requests: requests,
		pageSize: pageSize,
		logger:   logging.NewComponentLogger(logger, "retry"),
	}
}

// Run resets every matching request to to_schedule and clears its error
// log. A request stranded at notify_error keeps that step: its mutation
// already happened and only the announcement is replayed. Because each
// reset removes the request from the match set, the job re-issues the
// first page until it comes back empty.
func (j *Retry) Run(ctx context.Context, filter request.Filter, token *Token, progress Progress) (int, error) {
	progress = ensureProgress(progress)
	filter.States = request.RetryableStates

	total := 0
	for {
		if token != nil && token.Cancelled() {
			token.Clear()
			return total, ErrCancelled
		}

		page, err := j.requests.FindByFilter(ctx, filter, j.pageSize)
		if err != nil {
			return total, services.Wrap(services.ErrStore, "retry", "scan requests", "", err)
		}
		if len(page) == 0 {
			break
		}

		for _, req := range page {
			req.State = request.StateToSchedule
			req.Errors = nil
			if req.Step != request.StepNotifyError {
				req.Step = request.StepLocal
			}
		}
		if err := j.requests.SaveAll(ctx, page); err != nil {
			return total, services.Wrap(services.ErrStore, "retry", "save page", "", err)
		}
		total += len(page)
		progress.Advance(len(page))
	}

	j.logger.Info("retry completed", logging.Int("requeued", total))
	return total, nil
}
