package scheduler

import (
	"context"
	"testing"
	"time"

	"archon/internal/job"
	"archon/internal/logging"
	"archon/internal/request"
	"archon/internal/testsupport"
)

func newScheduler(t *testing.T) (*Scheduler, *request.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	handle := testsupport.MustOpenDB(t)
	store := testsupport.MustRequestStore(t, handle)
	runners := Runners{
		Retry: job.NewRetry(store, cfg.Scheduler.PageSize, logging.NewNop()),
	}
	return New(cfg, store, runners, logging.NewNop()), store
}

func TestPromotionUnparksFreePackages(t *testing.T) {
	sched, store := newScheduler(t)
	ctx := context.Background()

	free := request.NewUpdate("pkg-free", request.UpdateTask{Type: request.TaskAddTag, Value: "x"})
	free.State = request.StatePending

	blocked := request.NewUpdate("pkg-busy", request.UpdateTask{Type: request.TaskAddTag, Value: "x"})
	blocked.State = request.StatePending
	blocker := request.NewUpdate("pkg-busy", request.UpdateTask{Type: request.TaskAddTag, Value: "y"})
	blocker.State = request.StateRunning

	if err := store.SaveAll(ctx, []*request.Request{free, blocked, blocker}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sched.promote(ctx)

	got, err := store.Get(ctx, free.ID)
	if err != nil {
		t.Fatalf("reload free: %v", err)
	}
	if got.State != request.StateToSchedule {
		t.Fatalf("unblocked pending request should be promoted, state = %s", got.State)
	}

	still, err := store.Get(ctx, blocked.ID)
	if err != nil {
		t.Fatalf("reload blocked: %v", err)
	}
	if still.State != request.StatePending {
		t.Fatalf("blocked request must stay pending, state = %s", still.State)
	}
}

func TestPromotionIgnoresOwnIDWhenChecking(t *testing.T) {
	sched, store := newScheduler(t)
	ctx := context.Background()

	// A pending request must not block itself.
	lone := request.NewUpdate("pkg-solo", request.UpdateTask{Type: request.TaskAddTag, Value: "x"})
	lone.State = request.StatePending
	if err := store.Save(ctx, lone); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sched.promote(ctx)

	got, err := store.Get(ctx, lone.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.State != request.StateToSchedule {
		t.Fatalf("lone pending request should be promoted, state = %s", got.State)
	}
}

func TestDispatchUnclaimsBatchWhenPoolSaturated(t *testing.T) {
	sched, store := newScheduler(t)
	ctx := context.Background()

	req := request.NewUpdate("pkg-a", request.UpdateTask{Type: request.TaskAddTag, Value: "x"})
	if err := store.Save(ctx, req); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// No workers and no backlog: every submit is refused.
	sched.pool = &pool{tasks: make(chan task)}

	sched.dispatch(ctx)

	got, err := store.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.State != request.StateToSchedule {
		t.Fatalf("deferred batch must come back to to_schedule, state = %s", got.State)
	}

	// Once a worker slot opens the next beat picks it up again.
	sched.pool = &pool{tasks: make(chan task, 1)}
	sched.dispatch(ctx)

	got, err = store.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("reload after retry: %v", err)
	}
	if got.State != request.StateRunning {
		t.Fatalf("freed pool should claim the request, state = %s", got.State)
	}
}

func TestDispatchBatchCarriesPackagesWhole(t *testing.T) {
	sched, store := newScheduler(t)
	ctx := context.Background()
	sched.cfg.Scheduler.BatchSize = 2

	base := time.Now().UTC().Add(-time.Minute)
	a1 := request.NewUpdate("pkg-a", request.UpdateTask{Type: request.TaskRemoveTag, Value: "x"})
	a1.CreatedAt = base
	b := request.NewUpdate("pkg-b", request.UpdateTask{Type: request.TaskAddTag, Value: "x"})
	b.CreatedAt = base.Add(time.Second)
	a2 := request.NewUpdate("pkg-a", request.UpdateTask{Type: request.TaskAddTag, Value: "y"})
	a2.CreatedAt = base.Add(2 * time.Second)
	if err := store.SaveAll(ctx, []*request.Request{a1, b, a2}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	batch, err := store.FindByFilter(ctx, request.Filter{
		States: []request.State{request.StateToSchedule},
		Kinds:  []request.Kind{request.KindUpdate},
	}, sched.cfg.Scheduler.BatchSize)
	if err != nil {
		t.Fatalf("batch scan: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("precondition: truncated batch of 2, got %d", len(batch))
	}

	widened := sched.completePackageGroups(ctx, request.KindUpdate, batch)

	seen := make(map[string]bool)
	for _, req := range widened {
		if seen[req.ID] {
			t.Fatalf("request %s appears twice in widened batch", req.ID)
		}
		seen[req.ID] = true
	}
	if len(widened) != 3 {
		t.Fatalf("widened batch size = %d, want 3", len(widened))
	}
	if !seen[a2.ID] {
		t.Fatal("widened batch must carry the package's tail request")
	}
}

func TestNotifyRetryBeatRequeuesAnnouncementFailures(t *testing.T) {
	sched, store := newScheduler(t)
	ctx := context.Background()

	stranded := request.NewUpdate("pkg-a", request.UpdateTask{Type: request.TaskAddTag, Value: "x"})
	stranded.State = request.StateError
	stranded.Step = request.StepNotifyError
	if err := store.Save(ctx, stranded); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sched.retryNotifications(ctx)

	got, err := store.Get(ctx, stranded.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.State != request.StateToSchedule || got.Step != request.StepNotifyError {
		t.Fatalf("expected requeued at notify_error, got state=%s step=%s", got.State, got.Step)
	}
}
