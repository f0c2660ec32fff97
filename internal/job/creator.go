package job

import (
	"context"
	"fmt"
	"log/slog"

	"archon/internal/catalog"
	"archon/internal/logging"
	"archon/internal/request"
	"archon/internal/services"
)

// Creator fans one bulk creator request out into per-package requests. It
// pages through the catalog by ascending internal id so a crash or
// cancellation never revisits committed pages.
type Creator struct {
	requests RequestStore
	catalog  Catalog
	pageSize int
	logger   *slog.Logger
}

// NewCreator builds a creator job over the given stores.
func NewCreator(requests RequestStore, cat Catalog, pageSize int, logger *slog.Logger) *Creator {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Creator{
		requests: requests,
		catalog:  cat,
		pageSize: pageSize,
		logger:   logging.NewComponentLogger(logger, "creator"),
	}
}

// fanout builds the per-package requests one catalog match expands into.
type fanout func(pkg *catalog.Package) []*request.Request

// Run executes the creator request with the given id. The filter is
// validated before the first catalog query; an invalid bulk operation is
// rejected without scanning anything. On normal completion the creator
// request is removed.
func (c *Creator) Run(ctx context.Context, creatorID string, token *Token, progress Progress) error {
	progress = ensureProgress(progress)
	ctx = services.WithJobID(ctx, creatorID)

	creator, err := c.requests.Get(ctx, creatorID)
	if err != nil {
		return services.Wrap(services.ErrStore, "creator", "load", creatorID, err)
	}
	if creator == nil {
		return services.Wrap(services.ErrNotFound, "creator", "load", creatorID, nil)
	}

	filter, expand, err := c.plan(creator)
	if err != nil {
		creator.RecordError(err.Error())
		if saveErr := c.requests.Save(ctx, creator); saveErr != nil {
			return services.Wrap(services.ErrStore, "creator", "record rejection", creatorID, saveErr)
		}
		return err
	}

	creator.State = request.StateRunning
	if err := c.requests.Save(ctx, creator); err != nil {
		return services.Wrap(services.ErrStore, "creator", "mark running", creatorID, err)
	}

	page := catalog.Page{Size: c.pageSize}
	created := 0
	for {
		if token != nil && token.Cancelled() {
			creator.State = request.StateAborted
			token.Clear()
			if err := c.requests.Save(ctx, creator); err != nil {
				return services.Wrap(services.ErrStore, "creator", "mark aborted", creatorID, err)
			}
			c.logger.Info("creator cancelled",
				logging.String(logging.FieldJobID, creatorID),
				logging.Int("created", created),
			)
			return ErrCancelled
		}

		pkgs, err := c.catalog.Search(ctx, filter, page)
		if err != nil {
			creator.RecordError(err.Error())
			if saveErr := c.requests.Save(ctx, creator); saveErr != nil {
				c.logger.Error("failed to persist creator error",
					logging.String(logging.FieldJobID, creatorID),
					logging.Error(saveErr),
				)
			}
			return services.Wrap(services.ErrStore, "creator", "scan catalog", creatorID, err)
		}
		if len(pkgs) == 0 {
			break
		}

		var batch []*request.Request
		matched := 0
		for _, pkg := range pkgs {
			reqs, err := c.expand(ctx, pkg, expand)
			if err != nil {
				// One package failing to expand must not stop the scan.
				creator.Errors = append(creator.Errors,
					fmt.Sprintf("package %s: %v", pkg.PackageID, err))
				continue
			}
			if len(reqs) == 0 {
				continue
			}
			batch = append(batch, reqs...)
			matched++
		}
		if len(batch) > 0 {
			if err := c.requests.SaveAll(ctx, batch); err != nil {
				creator.RecordError(err.Error())
				if saveErr := c.requests.Save(ctx, creator); saveErr != nil {
					c.logger.Error("failed to persist creator error",
						logging.String(logging.FieldJobID, creatorID),
						logging.Error(saveErr),
					)
				}
				return services.Wrap(services.ErrStore, "creator", "save batch", creatorID, err)
			}
			created += len(batch)
		}
		progress.Advance(matched)
		page.After = pkgs[len(pkgs)-1].ID
	}

	if len(creator.Errors) > 0 {
		// Partial failures keep the creator around in error state so the
		// per-package messages stay inspectable.
		creator.State = request.StateError
		if err := c.requests.Save(ctx, creator); err != nil {
			return services.Wrap(services.ErrStore, "creator", "persist partial failure", creatorID, err)
		}
		c.logger.Warn("creator completed with package failures",
			logging.String(logging.FieldJobID, creatorID),
			logging.Int("created", created),
			logging.Int("failures", len(creator.Errors)),
		)
		return nil
	}

	if _, err := c.requests.Delete(ctx, creatorID); err != nil {
		return services.Wrap(services.ErrStore, "creator", "remove creator request", creatorID, err)
	}
	c.logger.Info("creator completed",
		logging.String(logging.FieldJobID, creatorID),
		logging.String(logging.FieldRequestKind, string(creator.Kind)),
		logging.Int("created", created),
	)
	return nil
}

// expand applies the per-package concurrency guard: a package that already
// has an active request receives its new requests in the pending state, to
// be promoted once the earlier work drains.
func (c *Creator) expand(ctx context.Context, pkg *catalog.Package, expand fanout) ([]*request.Request, error) {
	reqs := expand(pkg)
	if len(reqs) == 0 {
		return nil, nil
	}
	blocked, err := c.requests.HasActiveFor(ctx, pkg.PackageID)
	if err != nil {
		return nil, err
	}
	if blocked {
		for _, req := range reqs {
			req.State = request.StatePending
		}
	}
	return reqs, nil
}

// plan validates the creator payload and returns its catalog filter plus
// the fan-out for one matching package.
func (c *Creator) plan(creator *request.Request) (catalog.Filter, fanout, error) {
	switch creator.Kind {
	case request.KindUpdateCreator:
		payload := creator.UpdateCreator
		if payload == nil {
			return catalog.Filter{}, nil, services.Wrap(services.ErrValidation, "creator", "plan", "missing update payload", nil)
		}
		if err := payload.Filter.Validate(); err != nil {
			return catalog.Filter{}, nil, services.Wrap(services.ErrValidation, "creator", "plan", "invalid filter", err)
		}
		tasks := payload.Tasks()
		if len(tasks) == 0 {
			return catalog.Filter{}, nil, services.Wrap(services.ErrValidation, "creator", "plan", "bulk update carries no mutation", nil)
		}
		return payload.Filter, func(pkg *catalog.Package) []*request.Request {
			reqs := make([]*request.Request, 0, len(tasks))
			for _, task := range tasks {
				reqs = append(reqs, request.NewUpdate(pkg.PackageID, task))
			}
			return reqs
		}, nil

	case request.KindDeletionCreator:
		payload := creator.DeletionCreator
		if payload == nil {
			return catalog.Filter{}, nil, services.Wrap(services.ErrValidation, "creator", "plan", "missing deletion payload", nil)
		}
		if err := payload.Filter.Validate(); err != nil {
			return catalog.Filter{}, nil, services.Wrap(services.ErrValidation, "creator", "plan", "invalid filter", err)
		}
		if payload.Mode != request.DeletionLogical && payload.Mode != request.DeletionPhysical {
			return catalog.Filter{}, nil, services.Wrap(services.ErrValidation, "creator", "plan",
				fmt.Sprintf("unknown deletion mode %q", payload.Mode), nil)
		}
		deletion := request.DeletionPayload{Mode: payload.Mode, RemoveFiles: payload.RemoveFiles}
		return payload.Filter, func(pkg *catalog.Package) []*request.Request {
			return []*request.Request{request.NewDeletion(pkg.PackageID, deletion)}
		}, nil

	case request.KindDisseminationCreator:
		payload := creator.DisseminationCreator
		if payload == nil {
			return catalog.Filter{}, nil, services.Wrap(services.ErrValidation, "creator", "plan", "missing dissemination payload", nil)
		}
		if err := payload.Filter.Validate(); err != nil {
			return catalog.Filter{}, nil, services.Wrap(services.ErrValidation, "creator", "plan", "invalid filter", err)
		}
		if len(payload.Recipients) == 0 {
			return catalog.Filter{}, nil, services.Wrap(services.ErrValidation, "creator", "plan", "dissemination requires recipients", nil)
		}
		dissemination := request.DisseminationPayload{Recipients: payload.Recipients}
		return payload.Filter, func(pkg *catalog.Package) []*request.Request {
			return []*request.Request{request.NewDissemination(pkg.PackageID, dissemination)}
		}, nil

	default:
		return catalog.Filter{}, nil, services.Wrap(services.ErrValidation, "creator", "plan",
			fmt.Sprintf("request %s is not a creator request", creator.Kind), nil)
	}
}
