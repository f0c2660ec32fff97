package job

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"archon/internal/catalog"
	"archon/internal/logging"
	"archon/internal/notifications"
	"archon/internal/request"
	"archon/internal/services"
	"archon/internal/services/filestore"
)

// DeletionRunner retires packages from the catalog. Logical deletions
// keep the row in the deleted state; physical deletions remove it. With
// RemoveFiles set, every stored copy is ordered deleted from storage in
// one batch at the end of the run.
type DeletionRunner struct {
	requests RequestStore
	catalog  Catalog
	files    filestore.Transport
	notify   notifications.Service
	logger   *slog.Logger
}

// NewDeletionRunner builds a deletion runner over the given stores and
// transports.
func NewDeletionRunner(requests RequestStore, cat Catalog, files filestore.Transport, notify notifications.Service, logger *slog.Logger) *DeletionRunner {
	return &DeletionRunner{
		requests: requests,
		catalog:  cat,
		files:    files,
		notify:   notify,
		logger:   logging.NewComponentLogger(logger, "deletion-runner"),
	}
}

// Run processes the deletion requests with the given ids. The grouping,
// cancellation, and finalization discipline matches the update runner's.
func (r *DeletionRunner) Run(ctx context.Context, ids []string, token *Token, progress Progress) error {
	progress = ensureProgress(progress)

	reqs, err := r.requests.FindByIDs(ctx, ids)
	if err != nil {
		return services.Wrap(services.ErrStore, "deletion-runner", "load requests", "", err)
	}
	if len(reqs) == 0 {
		return nil
	}

	notifyActive := r.notify != nil && r.notify.Active()
	outcome := &runOutcome{}
	var removals []string

	groups := make(map[string][]*request.Request)
	for _, req := range reqs {
		if req.Kind != request.KindDeletion {
			req.RecordError(fmt.Sprintf("deletion runner received %s request", req.Kind))
			outcome.persist = append(outcome.persist, req)
			continue
		}
		if req.Step == request.StepNotifyError {
			outcome.toNotify = append(outcome.toNotify, req)
			continue
		}
		groups[req.TargetPackageID] = append(groups[req.TargetPackageID], req)
	}

	targets := make([]string, 0, len(groups))
	for target := range groups {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	for _, target := range targets {
		group := groups[target]
		if token != nil && token.Cancelled() {
			for _, req := range group {
				req.State = request.StateAborted
				outcome.persist = append(outcome.persist, req)
			}
			continue
		}
		r.runGroup(ctx, target, group, notifyActive, outcome, &removals)
		progress.Advance(1)
	}

	if len(outcome.deletions) > 0 {
		if err := r.files.Delete(ctx, outcome.deletions); err != nil {
			r.logger.Error("file deletion batch failed",
				logging.Int("count", len(outcome.deletions)),
				logging.Error(err),
			)
		}
	}

	cancelled := token != nil && token.Cancelled()
	if cancelled {
		token.Clear()
	}
	if err := r.finalize(ctx, outcome, removals); err != nil {
		return err
	}
	if cancelled {
		return ErrCancelled
	}
	return nil
}

func (r *DeletionRunner) runGroup(ctx context.Context, target string, group []*request.Request, notifyActive bool, outcome *runOutcome, removals *[]string) {
	ctx = services.WithPackageID(ctx, target)

	fail := func(message string) {
		for _, req := range group {
			req.RecordError(message)
			outcome.persist = append(outcome.persist, req)
		}
	}

	pkg, err := r.catalog.GetByPackageID(ctx, target)
	if err != nil {
		fail(fmt.Sprintf("load package %s: %v", target, err))
		return
	}
	if pkg == nil {
		fail(fmt.Sprintf("package %s not found", target))
		return
	}

	// Duplicate deletion requests against one package collapse into a
	// single outcome; physical wins over logical, RemoveFiles is sticky.
	mode := request.DeletionLogical
	removeFiles := false
	valid := 0
	for _, req := range group {
		if req.Deletion == nil {
			req.RecordError("deletion request carries no payload")
			outcome.persist = append(outcome.persist, req)
			continue
		}
		valid++
		if req.Deletion.Mode == request.DeletionPhysical {
			mode = request.DeletionPhysical
		}
		if req.Deletion.RemoveFiles {
			removeFiles = true
		}
	}
	// Payload-less requests carry no intent; without at least one valid
	// payload the package stays untouched.
	if valid == 0 {
		return
	}

	if removeFiles {
		for _, file := range pkg.Files {
			outcome.deletions = append(outcome.deletions, filestore.Deletion{
				Checksum:  file.Checksum,
				Storage:   file.Storage,
				PackageID: pkg.PackageID,
			})
		}
	}

	switch mode {
	case request.DeletionPhysical:
		*removals = append(*removals, pkg.PackageID)
	default:
		pkg.State = catalog.StateDeleted
		outcome.savePackages = append(outcome.savePackages, pkg)
	}

	for _, req := range group {
		if req.State == request.StateError {
			continue
		}
		if notifyActive {
			req.Step = request.StepNotifyPending
			outcome.toNotify = append(outcome.toNotify, req)
		} else {
			outcome.deleteIDs = append(outcome.deleteIDs, req.ID)
		}
	}
}

func (r *DeletionRunner) finalize(ctx context.Context, outcome *runOutcome, removals []string) error {
	if len(outcome.savePackages) > 0 {
		if err := r.catalog.SaveAll(ctx, outcome.savePackages); err != nil {
			return services.Wrap(services.ErrStore, "deletion-runner", "save packages", "", err)
		}
	}
	for _, packageID := range removals {
		if _, err := r.catalog.Remove(ctx, packageID); err != nil {
			return services.Wrap(services.ErrStore, "deletion-runner", "remove package", packageID, err)
		}
	}

	if len(outcome.toNotify) > 0 {
		failed, err := r.notify.Send(ctx, outcome.toNotify)
		if err != nil {
			failed = outcome.toNotify
		}
		notifyFailed := make(map[string]bool, len(failed))
		for _, req := range failed {
			notifyFailed[req.ID] = true
		}
		for _, req := range outcome.toNotify {
			if notifyFailed[req.ID] {
				req.Step = request.StepNotifyError
				req.RecordError("notification delivery failed")
				outcome.persist = append(outcome.persist, req)
			} else {
				outcome.deleteIDs = append(outcome.deleteIDs, req.ID)
			}
		}
	}

	if len(outcome.persist) > 0 {
		if err := r.requests.SaveAll(ctx, outcome.persist); err != nil {
			return services.Wrap(services.ErrStore, "deletion-runner", "persist failed requests", "", err)
		}
	}
	if len(outcome.deleteIDs) > 0 {
		if _, err := r.requests.DeleteAll(ctx, outcome.deleteIDs); err != nil {
			return services.Wrap(services.ErrStore, "deletion-runner", "retire requests", "", err)
		}
	}
	return nil
}
