package lifecycle

import (
	"context"
	"log/slog"

	"archon/internal/catalog"
	"archon/internal/job"
	"archon/internal/logging"
	"archon/internal/request"
	"archon/internal/services"
)

// Service is the operation surface the daemon and CLI share: it accepts
// bulk operations as creator requests and exposes the maintenance jobs
// over the request store.
type Service struct {
	requests *request.Store
	catalog  *catalog.Store
	retry    *job.Retry
	cleanup  *job.RequestDeletion
	logger   *slog.Logger
}

// NewService builds the lifecycle facade over the stores.
func NewService(requests *request.Store, cat *catalog.Store, pageSize int, logger *slog.Logger) *Service {
	return &Service{
		requests: requests,
		catalog:  cat,
		retry:    job.NewRetry(requests, pageSize, logger),
		cleanup:  job.NewRequestDeletion(requests, pageSize, logger),
		logger:   logging.NewComponentLogger(logger, "lifecycle"),
	}
}

// RegisterUpdatesCreator validates and persists a bulk-update operation.
// The returned id identifies the creator request until it fans out.
func (s *Service) RegisterUpdatesCreator(ctx context.Context, payload request.UpdateCreatorPayload) (string, error) {
	if err := payload.Filter.Validate(); err != nil {
		return "", services.Wrap(services.ErrValidation, "lifecycle", "register bulk update", "invalid filter", err)
	}
	if payload.Empty() {
		return "", services.Wrap(services.ErrValidation, "lifecycle", "register bulk update", "operation carries no mutation", nil)
	}
	req := request.NewUpdatesCreator(payload)
	if err := s.requests.Save(ctx, req); err != nil {
		return "", services.Wrap(services.ErrStore, "lifecycle", "register bulk update", "", err)
	}
	s.logger.Info("bulk update registered", logging.String(logging.FieldRequestID, req.ID))
	return req.ID, nil
}

// RegisterDeletionCreator validates and persists a bulk-deletion operation.
func (s *Service) RegisterDeletionCreator(ctx context.Context, payload request.DeletionCreatorPayload) (string, error) {
	if err := payload.Filter.Validate(); err != nil {
		return "", services.Wrap(services.ErrValidation, "lifecycle", "register bulk deletion", "invalid filter", err)
	}
	if payload.Mode != request.DeletionLogical && payload.Mode != request.DeletionPhysical {
		return "", services.Wrap(services.ErrValidation, "lifecycle", "register bulk deletion", "unknown deletion mode", nil)
	}
	req := request.NewDeletionCreator(payload)
	if err := s.requests.Save(ctx, req); err != nil {
		return "", services.Wrap(services.ErrStore, "lifecycle", "register bulk deletion", "", err)
	}
	s.logger.Info("bulk deletion registered", logging.String(logging.FieldRequestID, req.ID))
	return req.ID, nil
}

// RegisterDisseminationCreator validates and persists a bulk-dissemination
// operation.
func (s *Service) RegisterDisseminationCreator(ctx context.Context, payload request.DisseminationCreatorPayload) (string, error) {
	if err := payload.Filter.Validate(); err != nil {
		return "", services.Wrap(services.ErrValidation, "lifecycle", "register bulk dissemination", "invalid filter", err)
	}
	if len(payload.Recipients) == 0 {
		return "", services.Wrap(services.ErrValidation, "lifecycle", "register bulk dissemination", "no recipients", nil)
	}
	req := request.NewDisseminationCreator(payload)
	if err := s.requests.Save(ctx, req); err != nil {
		return "", services.Wrap(services.ErrStore, "lifecycle", "register bulk dissemination", "", err)
	}
	s.logger.Info("bulk dissemination registered", logging.String(logging.FieldRequestID, req.ID))
	return req.ID, nil
}

// RetryRequests re-queues failed and aborted requests matching the filter
// and returns how many were touched.
func (s *Service) RetryRequests(ctx context.Context, filter request.Filter) (int, error) {
	return s.retry.Run(ctx, filter, nil, nil)
}

// DeleteRequests removes non-running requests matching the filter and
// returns how many were removed.
func (s *Service) DeleteRequests(ctx context.Context, filter request.Filter) (int, error) {
	return s.cleanup.Run(ctx, filter, nil, nil)
}

// ListRequests returns up to limit requests matching the filter.
func (s *Service) ListRequests(ctx context.Context, filter request.Filter, limit int) ([]*request.Request, error) {
	return s.requests.FindByFilter(ctx, filter, limit)
}

// RequestStats returns the per-state request counts.
func (s *Service) RequestStats(ctx context.Context) (map[request.State]int, error) {
	return s.requests.Stats(ctx)
}

// CatalogStats returns the per-state package counts.
func (s *Service) CatalogStats(ctx context.Context) (map[catalog.State]int, error) {
	return s.catalog.Stats(ctx)
}

// SearchPackages pages through the catalog with the given filter.
func (s *Service) SearchPackages(ctx context.Context, filter catalog.Filter, page catalog.Page) ([]*catalog.Package, error) {
	if err := filter.Validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "lifecycle", "search packages", "invalid filter", err)
	}
	return s.catalog.Search(ctx, filter, page)
}

// GetPackage loads one package by business id.
func (s *Service) GetPackage(ctx context.Context, packageID string) (*catalog.Package, error) {
	return s.catalog.GetByPackageID(ctx, packageID)
}
