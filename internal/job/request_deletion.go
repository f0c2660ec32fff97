package job

import (
	"context"
	"log/slog"

	"archon/internal/logging"
	"archon/internal/request"
	"archon/internal/services"
)

// RequestDeletion removes requests from the store in bulk. Running
// requests are always excluded from the match set: a runner holding them
// would otherwise resurrect rows it believes it owns.
type RequestDeletion struct {
	requests RequestStore
	pageSize int
	logger   *slog.Logger
}

// NewRequestDeletion builds a request-deletion job over the request store.
func NewRequestDeletion(requests RequestStore, pageSize int, logger *slog.Logger) *RequestDeletion {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &RequestDeletion{
		requests: requests,
		pageSize: pageSize,
		logger:   logging.NewComponentLogger(logger, "request-deletion"),
	}
}

// Run deletes every request matching the filter, page by page. Deleting a
// page shrinks the match set, so the job re-issues the first page until it
// comes back empty.
func (j *RequestDeletion) Run(ctx context.Context, filter request.Filter, token *Token, progress Progress) (int, error) {
	progress = ensureProgress(progress)
	filter.States = withoutRunning(filter.States)
	if len(filter.States) == 0 {
		// The caller asked only for running requests; nothing is eligible.
		return 0, nil
	}

	total := 0
	for {
		if token != nil && token.Cancelled() {
			token.Clear()
			return total, ErrCancelled
		}

		page, err := j.requests.FindByFilter(ctx, filter, j.pageSize)
		if err != nil {
			return total, services.Wrap(services.ErrStore, "request-deletion", "scan requests", "", err)
		}
		if len(page) == 0 {
			break
		}

		ids := make([]string, 0, len(page))
		for _, req := range page {
			ids = append(ids, req.ID)
		}
		removed, err := j.requests.DeleteAll(ctx, ids)
		if err != nil {
			return total, services.Wrap(services.ErrStore, "request-deletion", "delete page", "", err)
		}
		total += int(removed)
		progress.Advance(int(removed))
	}

	j.logger.Info("request deletion completed", logging.Int("removed", total))
	return total, nil
}

func withoutRunning(states []request.State) []request.State {
	if len(states) == 0 {
		var all []request.State
		for _, state := range request.AllStates() {
			if state != request.StateRunning {
				all = append(all, state)
			}
		}
		return all
	}
	filtered := make([]request.State, 0, len(states))
	for _, state := range states {
		if state != request.StateRunning {
			filtered = append(filtered, state)
		}
	}
	return filtered
}
