package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"archon/internal/config"
	"archon/internal/job"
	"archon/internal/logging"
	"archon/internal/request"
)

// Runners bundles the per-kind job executors the scheduler dispatches to.
type Runners struct {
	Creator       *job.Creator
	Update        *job.UpdateRunner
	Deletion      *job.DeletionRunner
	Dissemination *job.DisseminationRunner
	Retry         *job.Retry
}

// Scheduler drives the engine: a promotion beat that unparks pending
// requests once their package frees up, a dispatch beat that hands
// schedulable requests to the worker pool in bounded batches, and a
// recovery beat that re-queues announcement-only failures.
type Scheduler struct {
	cfg     *config.Config
	store   *request.Store
	runners Runners
	logger  *slog.Logger

	cron *cron.Cron
	pool *pool

	mu      sync.Mutex
	running bool
	tokens  map[*job.Token]struct{}
}

// New builds a scheduler over the request store and runners.
func New(cfg *config.Config, store *request.Store, runners Runners, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		store:   store,
		runners: runners,
		logger:  logging.NewComponentLogger(logger, "scheduler"),
		tokens:  make(map[*job.Token]struct{}),
	}
}

// Start registers the beats and launches the worker pool.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}

	s.pool = newPool(s.cfg.Scheduler.Workers, s.logger)
	s.cron = cron.New()

	beats := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"dispatch", s.cfg.Scheduler.DispatchInterval, s.dispatch},
		{"promotion", s.cfg.Scheduler.PromotionInterval, s.promote},
		{"notify-retry", s.cfg.Scheduler.ErrorRetryInterval, s.retryNotifications},
	}
	for _, beat := range beats {
		beat := beat
		spec := fmt.Sprintf("@every %ds", beat.interval)
		if _, err := s.cron.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(beat.interval)*time.Second)
			defer cancel()
			beat.fn(ctx)
		}); err != nil {
			s.pool.close()
			return fmt.Errorf("register %s beat: %w", beat.name, err)
		}
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started",
		logging.Int("workers", s.cfg.Scheduler.Workers),
		logging.Int("dispatch_interval", s.cfg.Scheduler.DispatchInterval),
	)
	return nil
}

// Stop halts the beats, fires every outstanding job token, and waits for
// in-flight jobs to finalize.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cronStop := s.cron.Stop()
	for token := range s.tokens {
		token.Cancel()
	}
	s.mu.Unlock()

	<-cronStop.Done()
	s.pool.close()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) trackToken() *job.Token {
	token := job.NewToken()
	s.mu.Lock()
	s.tokens[token] = struct{}{}
	s.mu.Unlock()
	return token
}

func (s *Scheduler) releaseToken(token *job.Token) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// promote moves pending requests back to to_schedule once no other
// request is queued or running against their package.
func (s *Scheduler) promote(ctx context.Context) {
	pending, err := s.store.FindByFilter(ctx, request.Filter{
		States: []request.State{request.StatePending},
	}, s.cfg.Scheduler.BatchSize)
	if err != nil {
		s.logger.Error("promotion scan failed", logging.Error(err))
		return
	}

	var promote []string
	for _, req := range pending {
		if req.TargetPackageID != "" {
			blocked, err := s.store.HasBlockingFor(ctx, req.TargetPackageID, req.ID)
			if err != nil {
				s.logger.Error("promotion guard failed",
					logging.String(logging.FieldRequestID, req.ID),
					logging.Error(err),
				)
				continue
			}
			if blocked {
				continue
			}
		}
		promote = append(promote, req.ID)
	}
	if len(promote) == 0 {
		return
	}
	if _, err := s.store.UpdateStateAll(ctx, promote, request.StateToSchedule); err != nil {
		s.logger.Error("promotion update failed", logging.Error(err))
		return
	}
	s.logger.Debug("promoted pending requests", logging.Int("count", len(promote)))
}

// dispatch collects schedulable requests per kind and submits runner jobs
// to the pool. Requests are marked running before submission so a beat
// firing mid-run never double-dispatches them.
func (s *Scheduler) dispatch(ctx context.Context) {
	for _, kind := range request.AllKinds() {
		batch, err := s.store.FindByFilter(ctx, request.Filter{
			States: []request.State{request.StateToSchedule},
			Kinds:  []request.Kind{kind},
		}, s.cfg.Scheduler.BatchSize)
		if err != nil {
			s.logger.Error("dispatch scan failed",
				logging.String(logging.FieldRequestKind, string(kind)),
				logging.Error(err),
			)
			continue
		}
		if len(batch) == 0 {
			continue
		}
		if !kind.IsCreator() && len(batch) == s.cfg.Scheduler.BatchSize {
			batch = s.completePackageGroups(ctx, kind, batch)
		}

		if kind.IsCreator() {
			for _, req := range batch {
				s.submitCreator(ctx, req.ID)
			}
			continue
		}

		ids := make([]string, len(batch))
		for i, req := range batch {
			ids[i] = req.ID
		}
		if _, err := s.store.UpdateStateAll(ctx, ids, request.StateRunning); err != nil {
			s.logger.Error("dispatch state update failed",
				logging.String(logging.FieldRequestKind, string(kind)),
				logging.Error(err),
			)
			continue
		}
		s.submitRunner(ctx, kind, ids)
	}
}

// completePackageGroups widens a truncated batch so every package it
// touches is carried whole. Splitting a package's requests across two
// concurrent jobs would apply its tasks in two separately ordered runs.
func (s *Scheduler) completePackageGroups(ctx context.Context, kind request.Kind, batch []*request.Request) []*request.Request {
	seen := make(map[string]bool, len(batch))
	targets := make(map[string]bool)
	for _, req := range batch {
		seen[req.ID] = true
		if req.TargetPackageID != "" {
			targets[req.TargetPackageID] = true
		}
	}
	for target := range targets {
		rest, err := s.store.FindByFilter(ctx, request.Filter{
			States:          []request.State{request.StateToSchedule},
			Kinds:           []request.Kind{kind},
			TargetPackageID: target,
		}, s.cfg.Scheduler.BatchSize)
		if err != nil {
			s.logger.Error("batch widening scan failed",
				logging.String(logging.FieldPackageID, target),
				logging.Error(err),
			)
			continue
		}
		for _, req := range rest {
			if !seen[req.ID] {
				seen[req.ID] = true
				batch = append(batch, req)
			}
		}
	}
	return batch
}

func (s *Scheduler) submitCreator(ctx context.Context, creatorID string) {
	// Claim the creator first so a beat firing mid-run skips it.
	if _, err := s.store.UpdateStateAll(ctx, []string{creatorID}, request.StateRunning); err != nil {
		s.logger.Error("creator claim failed",
			logging.String(logging.FieldJobID, creatorID),
			logging.Error(err),
		)
		return
	}
	token := s.trackToken()
	submitted := s.pool.submit(func(ctx context.Context) {
		defer s.releaseToken(token)
		err := s.runners.Creator.Run(ctx, creatorID, token, &job.CountingProgress{})
		s.report("creator", err)
	})
	if !submitted {
		s.releaseToken(token)
		if _, err := s.store.UpdateStateAll(ctx, []string{creatorID}, request.StateToSchedule); err != nil {
			s.logger.Error("creator unclaim failed",
				logging.String(logging.FieldJobID, creatorID),
				logging.Error(err),
			)
		}
		s.logger.Warn("worker pool saturated, creator deferred",
			logging.String(logging.FieldJobID, creatorID),
		)
	}
}

func (s *Scheduler) submitRunner(ctx context.Context, kind request.Kind, ids []string) {
	token := s.trackToken()
	submitted := s.pool.submit(func(ctx context.Context) {
		defer s.releaseToken(token)
		var err error
		switch kind {
		case request.KindUpdate:
			err = s.runners.Update.Run(ctx, ids, token, &job.CountingProgress{})
		case request.KindDeletion:
			err = s.runners.Deletion.Run(ctx, ids, token, &job.CountingProgress{})
		case request.KindDissemination:
			err = s.runners.Dissemination.Run(ctx, ids, token, &job.CountingProgress{})
		default:
			err = fmt.Errorf("no runner for kind %s", kind)
		}
		s.report(string(kind), err)
	})
	if !submitted {
		s.releaseToken(token)
		// The job never started, so the claim comes back off cleanly;
		// the next dispatch beat picks the batch up again.
		if _, err := s.store.UpdateStateAll(ctx, ids, request.StateToSchedule); err != nil {
			s.logger.Error("batch unclaim failed",
				logging.String(logging.FieldRequestKind, string(kind)),
				logging.Error(err),
			)
		}
		s.logger.Warn("worker pool saturated, batch deferred",
			logging.String(logging.FieldRequestKind, string(kind)),
			logging.Int("count", len(ids)),
		)
	}
}

// retryNotifications re-queues requests whose mutation committed but whose
// announcement failed. Replaying those is always safe, so they come back
// automatically instead of waiting for an operator.
func (s *Scheduler) retryNotifications(ctx context.Context) {
	count, err := s.runners.Retry.Run(ctx, request.Filter{
		Steps: []request.Step{request.StepNotifyError},
	}, nil, nil)
	if err != nil {
		s.logger.Error("notification retry failed", logging.Error(err))
		return
	}
	if count > 0 {
		s.logger.Info("re-queued announcement failures", logging.Int("count", count))
	}
}

func (s *Scheduler) report(kind string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, job.ErrCancelled):
		s.logger.Info("job cancelled", logging.String(logging.FieldRequestKind, kind))
	default:
		s.logger.Error("job failed",
			logging.String(logging.FieldRequestKind, kind),
			logging.Error(err),
		)
	}
}
