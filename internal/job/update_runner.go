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
	"archon/internal/update"
)

// UpdateRunner replays queued update requests against their packages.
// Requests are grouped by target, every group folds its tasks into a
// single draft in deterministic order, and all store writes and side
// effects are deferred to one finalization pass.
type UpdateRunner struct {
	requests RequestStore
	catalog  Catalog
	files    filestore.Transport
	notify   notifications.Service
	logger   *slog.Logger
}

// NewUpdateRunner builds an update runner over the given stores and
// transports.
func NewUpdateRunner(requests RequestStore, cat Catalog, files filestore.Transport, notify notifications.Service, logger *slog.Logger) *UpdateRunner {
	return &UpdateRunner{
		requests: requests,
		catalog:  cat,
		files:    files,
		notify:   notify,
		logger:   logging.NewComponentLogger(logger, "update-runner"),
	}
}

// runOutcome accumulates the deferred writes of one runner invocation.
type runOutcome struct {
	savePackages []*catalog.Package
	deleteIDs    []string
	persist      []*request.Request
	toNotify     []*request.Request
	deletions    []filestore.Deletion
}

// Run processes the update requests with the given ids. Per-task failures
// mark their own request and never stop the batch; only store and
// transport failures fail the run wholesale.
func (r *UpdateRunner) Run(ctx context.Context, ids []string, token *Token, progress Progress) error {
	progress = ensureProgress(progress)

	reqs, err := r.requests.FindByIDs(ctx, ids)
	if err != nil {
		return services.Wrap(services.ErrStore, "update-runner", "load requests", "", err)
	}
	if len(reqs) == 0 {
		return nil
	}

	notifyActive := r.notify != nil && r.notify.Active()
	outcome := &runOutcome{}

	// Requests stranded at notify_error already mutated their package.
	// They skip the replay entirely and go straight back to the fan-out.
	groups := make(map[string][]*request.Request)
	for _, req := range reqs {
		if req.Kind != request.KindUpdate {
			req.RecordError(fmt.Sprintf("update runner received %s request", req.Kind))
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
		r.runGroup(ctx, target, group, notifyActive, outcome)
		progress.Advance(1)
	}

	if len(outcome.deletions) > 0 {
		// Deletion orders are advisory; a transport hiccup must not undo
		// mutations that already happened.
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
	if err := r.finalize(ctx, outcome); err != nil {
		return err
	}
	if cancelled {
		return ErrCancelled
	}
	return nil
}

// runGroup folds one package's requests through the update steps. The
// group shares a single draft; a failing task marks its own request and
// the fold continues, so later tasks still apply.
func (r *UpdateRunner) runGroup(ctx context.Context, target string, group []*request.Request, notifyActive bool, outcome *runOutcome) {
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

	draft, err := update.NewDraft(pkg)
	if err != nil {
		fail(err.Error())
		return
	}

	request.SortByTaskOrder(group)
	var succeeded []*request.Request
	for _, req := range group {
		if req.Update == nil {
			req.RecordError("update request carries no task")
			outcome.persist = append(outcome.persist, req)
			continue
		}
		if err := update.Apply(draft, *req.Update); err != nil {
			req.RecordError(err.Error())
			outcome.persist = append(outcome.persist, req)
			r.logger.Debug("task failed",
				logging.String(logging.FieldRequestID, req.ID),
				logging.String(logging.FieldPackageID, target),
				logging.Error(err),
			)
			continue
		}
		succeeded = append(succeeded, req)
	}

	if draft.Pristine() {
		// Nothing changed: no write, no announcement, requests retire
		// silently.
		for _, req := range succeeded {
			outcome.deleteIDs = append(outcome.deleteIDs, req.ID)
		}
		return
	}

	outcome.savePackages = append(outcome.savePackages, draft.Package())
	outcome.deletions = append(outcome.deletions, draft.Deletions()...)
	for _, req := range succeeded {
		if notifyActive {
			req.Step = request.StepNotifyPending
			outcome.toNotify = append(outcome.toNotify, req)
		} else {
			outcome.deleteIDs = append(outcome.deleteIDs, req.ID)
		}
	}
}

// finalize commits the deferred writes: package saves, the notification
// batch, failed-request persists, and silent-success deletes. A failed
// announcement re-enters its request at notify_error so the mutation is
// never replayed.
func (r *UpdateRunner) finalize(ctx context.Context, outcome *runOutcome) error {
	if len(outcome.savePackages) > 0 {
		if err := r.catalog.SaveAll(ctx, outcome.savePackages); err != nil {
			return services.Wrap(services.ErrStore, "update-runner", "save packages", "", err)
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
			return services.Wrap(services.ErrStore, "update-runner", "persist failed requests", "", err)
		}
	}
	if len(outcome.deleteIDs) > 0 {
		if _, err := r.requests.DeleteAll(ctx, outcome.deleteIDs); err != nil {
			return services.Wrap(services.ErrStore, "update-runner", "retire requests", "", err)
		}
	}
	return nil
}
