package job

import (
	"context"
	"fmt"
	"log/slog"

	"archon/internal/logging"
	"archon/internal/request"
	"archon/internal/services"
	"archon/internal/services/dissemination"
)

// DisseminationRunner delivers dissemination requests one by one. A
// delivery failure marks its own request and never touches siblings.
type DisseminationRunner struct {
	requests     RequestStore
	catalog      Catalog
	disseminator dissemination.Disseminator
	logger       *slog.Logger
}

// NewDisseminationRunner builds a dissemination runner.
func NewDisseminationRunner(requests RequestStore, cat Catalog, disseminator dissemination.Disseminator, logger *slog.Logger) *DisseminationRunner {
	return &DisseminationRunner{
		requests:     requests,
		catalog:      cat,
		disseminator: disseminator,
		logger:       logging.NewComponentLogger(logger, "dissemination-runner"),
	}
}

// Run processes the dissemination requests with the given ids.
func (r *DisseminationRunner) Run(ctx context.Context, ids []string, token *Token, progress Progress) error {
	progress = ensureProgress(progress)

	reqs, err := r.requests.FindByIDs(ctx, ids)
	if err != nil {
		return services.Wrap(services.ErrStore, "dissemination-runner", "load requests", "", err)
	}
	if len(reqs) == 0 {
		return nil
	}

	var persist []*request.Request
	var deleteIDs []string

	for _, req := range reqs {
		if token != nil && token.Cancelled() {
			req.State = request.StateAborted
			persist = append(persist, req)
			continue
		}
		if req.Kind != request.KindDissemination || req.Dissemination == nil {
			req.RecordError(fmt.Sprintf("dissemination runner received %s request", req.Kind))
			persist = append(persist, req)
			continue
		}

		pkg, err := r.catalog.GetByPackageID(ctx, req.TargetPackageID)
		if err != nil {
			req.RecordError(fmt.Sprintf("load package %s: %v", req.TargetPackageID, err))
			persist = append(persist, req)
			continue
		}
		if pkg == nil {
			req.RecordError(fmt.Sprintf("package %s not found", req.TargetPackageID))
			persist = append(persist, req)
			continue
		}

		order := dissemination.Order{
			RequestID:  req.ID,
			PackageID:  pkg.PackageID,
			Recipients: req.Dissemination.Recipients,
		}
		if err := r.disseminator.Disseminate(ctx, order); err != nil {
			req.RecordError(err.Error())
			persist = append(persist, req)
			r.logger.Warn("dissemination failed",
				logging.String(logging.FieldRequestID, req.ID),
				logging.String(logging.FieldPackageID, pkg.PackageID),
				logging.Error(err),
			)
			continue
		}
		deleteIDs = append(deleteIDs, req.ID)
		progress.Advance(1)
	}

	cancelled := token != nil && token.Cancelled()
	if cancelled {
		token.Clear()
	}
	if len(persist) > 0 {
		if err := r.requests.SaveAll(ctx, persist); err != nil {
			return services.Wrap(services.ErrStore, "dissemination-runner", "persist failed requests", "", err)
		}
	}
	if len(deleteIDs) > 0 {
		if _, err := r.requests.DeleteAll(ctx, deleteIDs); err != nil {
			return services.Wrap(services.ErrStore, "dissemination-runner", "retire requests", "", err)
		}
	}
	if cancelled {
		return ErrCancelled
	}
	return nil
}
