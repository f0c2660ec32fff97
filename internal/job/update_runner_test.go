package job_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"archon/internal/catalog"
	"archon/internal/job"
	"archon/internal/logging"
	"archon/internal/request"
	"archon/internal/testsupport"
)

type runnerFixture struct {
	requests *request.Store
	catalog  *countingCatalog
	files    *recordingTransport
	notify   *fakeNotify
	runner   *job.UpdateRunner
}

func newRunnerFixture(t *testing.T, active bool) *runnerFixture {
	t.Helper()
	handle := testsupport.MustOpenDB(t)
	fx := &runnerFixture{
		requests: testsupport.MustRequestStore(t, handle),
		catalog:  &countingCatalog{Store: testsupport.MustCatalogStore(t, handle)},
		files:    &recordingTransport{},
		notify:   &fakeNotify{},
	}
	if active {
		fx.runner = job.NewUpdateRunner(fx.requests, fx.catalog, fx.files, fx.notify, logging.NewNop())
	} else {
		fx.runner = job.NewUpdateRunner(fx.requests, fx.catalog, fx.files, inactiveNotify{}, logging.NewNop())
	}
	return fx
}

func (fx *runnerFixture) save(t *testing.T, reqs ...*request.Request) []string {
	t.Helper()
	if err := fx.requests.SaveAll(context.Background(), reqs); err != nil {
		t.Fatalf("save requests: %v", err)
	}
	ids := make([]string, len(reqs))
	for i, req := range reqs {
		ids[i] = req.ID
	}
	return ids
}

// A tag removal and a tag addition against the same package must apply in
// type-rank order regardless of creation order, so REMOVE_TAG("A") plus
// ADD_TAG("B") always converges on {"B"}.
func TestUpdateRunnerAppliesTasksInTypeOrder(t *testing.T) {
	for name, reversed := range map[string]bool{"created in order": false, "created reversed": true} {
		t.Run(name, func(t *testing.T) {
			fx := newRunnerFixture(t, false)
			ctx := context.Background()

			testsupport.NewPackage(t, fx.catalog.Store, "pkg-a", func(pkg *catalog.Package) {
				pkg.Tags = []string{"A"}
			})

			remove := request.NewUpdate("pkg-a", request.UpdateTask{Type: request.TaskRemoveTag, Value: "A"})
			add := request.NewUpdate("pkg-a", request.UpdateTask{Type: request.TaskAddTag, Value: "B"})
			if reversed {
				add.CreatedAt = remove.CreatedAt.Add(-time.Minute)
			} else {
				add.CreatedAt = remove.CreatedAt.Add(time.Minute)
			}

			ids := fx.save(t, add, remove)
			if err := fx.runner.Run(ctx, ids, nil, nil); err != nil {
				t.Fatalf("run: %v", err)
			}

			pkg, err := fx.catalog.Store.GetByPackageID(ctx, "pkg-a")
			if err != nil {
				t.Fatalf("reload package: %v", err)
			}
			if len(pkg.Tags) != 1 || pkg.Tags[0] != "B" {
				t.Fatalf("tags = %v, want [B]", pkg.Tags)
			}

			left, err := fx.requests.FindByIDs(ctx, ids)
			if err != nil {
				t.Fatalf("reload requests: %v", err)
			}
			if len(left) != 0 {
				t.Fatalf("successful requests should be retired, %d remain", len(left))
			}
		})
	}
}

func TestUpdateRunnerIsolatesTaskFailures(t *testing.T) {
	fx := newRunnerFixture(t, false)
	ctx := context.Background()

	testsupport.NewPackage(t, fx.catalog.Store, "pkg-a")

	good := request.NewUpdate("pkg-a", request.UpdateTask{Type: request.TaskAddTag, Value: "kept"})
	bad := request.NewUpdate("pkg-a", request.UpdateTask{
		Type:     request.TaskRemoveFileLocation,
		Location: &catalog.FileLocation{Checksum: "nope", Storage: "cold"},
	})

	ids := fx.save(t, good, bad)
	if err := fx.runner.Run(ctx, ids, nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	pkg, err := fx.catalog.Store.GetByPackageID(ctx, "pkg-a")
	if err != nil {
		t.Fatalf("reload package: %v", err)
	}
	if len(pkg.Tags) != 1 || pkg.Tags[0] != "kept" {
		t.Fatalf("surviving task should still apply, tags = %v", pkg.Tags)
	}

	failed, err := fx.requests.Get(ctx, bad.ID)
	if err != nil {
		t.Fatalf("reload failed request: %v", err)
	}
	if failed == nil || failed.State != request.StateError || len(failed.Errors) == 0 {
		t.Fatalf("failed request should be kept in error state, got %+v", failed)
	}

	if kept, _ := fx.requests.Get(ctx, good.ID); kept != nil {
		t.Fatalf("successful request should be retired, got %+v", kept)
	}
}

func TestUpdateRunnerPristineRunPersistsNothing(t *testing.T) {
	fx := newRunnerFixture(t, true)
	ctx := context.Background()

	pkg := testsupport.NewPackage(t, fx.catalog.Store, "pkg-a", func(pkg *catalog.Package) {
		pkg.Tags = []string{"existing"}
	})
	before := pkg.LastUpdate

	// Adding a tag the package already carries changes nothing.
	noop := request.NewUpdate("pkg-a", request.UpdateTask{Type: request.TaskAddTag, Value: "existing"})
	ids := fx.save(t, noop)
	if err := fx.runner.Run(ctx, ids, nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	reloaded, err := fx.catalog.Store.GetByPackageID(ctx, "pkg-a")
	if err != nil {
		t.Fatalf("reload package: %v", err)
	}
	if !reloaded.LastUpdate.Equal(before) {
		t.Fatalf("pristine run must not rewrite the package, last update moved %v -> %v", before, reloaded.LastUpdate)
	}
	if fx.notify.sentCount() != 0 {
		t.Fatalf("pristine run must not announce anything, sent %d", fx.notify.sentCount())
	}
	if left, _ := fx.requests.Get(ctx, noop.ID); left != nil {
		t.Fatalf("pristine request should retire silently, got %+v", left)
	}
}

func TestUpdateRunnerNotifyErrorSkipsMutationReplay(t *testing.T) {
	fx := newRunnerFixture(t, true)
	ctx := context.Background()

	testsupport.NewPackage(t, fx.catalog.Store, "pkg-a", func(pkg *catalog.Package) {
		pkg.Tags = []string{"applied"}
	})

	// The mutation already happened in an earlier run; only the
	// announcement is outstanding.
	stranded := request.NewUpdate("pkg-a", request.UpdateTask{Type: request.TaskAddTag, Value: "applied"})
	stranded.Step = request.StepNotifyError
	stranded.State = request.StateRunning

	ids := fx.save(t, stranded)
	if err := fx.runner.Run(ctx, ids, nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if fx.catalog.loads != 0 {
		t.Fatalf("notify_error request must not reload its package, saw %d loads", fx.catalog.loads)
	}
	if fx.notify.sentCount() != 1 {
		t.Fatalf("expected exactly one announcement, sent %d", fx.notify.sentCount())
	}
	if left, _ := fx.requests.Get(ctx, stranded.ID); left != nil {
		t.Fatalf("announced request should be retired, got %+v", left)
	}
}

func TestUpdateRunnerFailedNotificationKeepsRequestAtNotifyError(t *testing.T) {
	fx := newRunnerFixture(t, true)
	fx.notify.failFor = map[string]bool{"pkg-a": true}
	ctx := context.Background()

	testsupport.NewPackage(t, fx.catalog.Store, "pkg-a")

	req := request.NewUpdate("pkg-a", request.UpdateTask{Type: request.TaskAddTag, Value: "new"})
	ids := fx.save(t, req)
	if err := fx.runner.Run(ctx, ids, nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	// The mutation itself committed.
	pkg, err := fx.catalog.Store.GetByPackageID(ctx, "pkg-a")
	if err != nil {
		t.Fatalf("reload package: %v", err)
	}
	if !pkg.HasTag("new") {
		t.Fatal("mutation should commit even when the announcement fails")
	}

	kept, err := fx.requests.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("reload request: %v", err)
	}
	if kept == nil {
		t.Fatal("request with failed announcement must be kept")
	}
	if kept.Step != request.StepNotifyError || kept.State != request.StateError {
		t.Fatalf("expected error state at notify_error step, got state=%s step=%s", kept.State, kept.Step)
	}
}

func TestUpdateRunnerCancellationAbortsRemainingGroups(t *testing.T) {
	fx := newRunnerFixture(t, false)
	ctx := context.Background()

	testsupport.NewPackage(t, fx.catalog.Store, "pkg-a")
	testsupport.NewPackage(t, fx.catalog.Store, "pkg-b")

	token := job.NewToken()
	// Fire the token while the first group is mid-flight; the second
	// group must then abort wholesale.
	fx.catalog.afterLoad = func() { token.Cancel() }

	first := request.NewUpdate("pkg-a", request.UpdateTask{Type: request.TaskAddTag, Value: "one"})
	second := request.NewUpdate("pkg-b", request.UpdateTask{Type: request.TaskAddTag, Value: "two"})
	ids := fx.save(t, first, second)

	err := fx.runner.Run(ctx, ids, token, nil)
	if !errors.Is(err, job.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if token.Cancelled() {
		t.Fatal("token should be cleared before finalization")
	}

	pkgA, err := fx.catalog.Store.GetByPackageID(ctx, "pkg-a")
	if err != nil {
		t.Fatalf("reload pkg-a: %v", err)
	}
	if !pkgA.HasTag("one") {
		t.Fatal("in-flight group committed before the token fired and must stay")
	}

	pkgB, err := fx.catalog.Store.GetByPackageID(ctx, "pkg-b")
	if err != nil {
		t.Fatalf("reload pkg-b: %v", err)
	}
	if pkgB.HasTag("two") {
		t.Fatal("aborted group must not touch its package")
	}

	aborted, err := fx.requests.Get(ctx, second.ID)
	if err != nil {
		t.Fatalf("reload aborted request: %v", err)
	}
	if aborted == nil || aborted.State != request.StateAborted {
		t.Fatalf("second group should be aborted, got %+v", aborted)
	}
}

func TestUpdateRunnerBatchesFileDeletions(t *testing.T) {
	fx := newRunnerFixture(t, false)
	ctx := context.Background()

	testsupport.NewPackage(t, fx.catalog.Store, "pkg-a", func(pkg *catalog.Package) {
		pkg.Storages = []string{"hot", "cold"}
		pkg.Files = []catalog.FileLocation{
			{Checksum: "f1", Storage: "cold", URI: "cold://f1"},
			{Checksum: "f1", Storage: "hot", URI: "hot://f1"},
			{Checksum: "f2", Storage: "cold", URI: "cold://f2"},
		}
	})

	drop := request.NewUpdate("pkg-a", request.UpdateTask{Type: request.TaskRemoveStorage, Value: "cold"})
	ids := fx.save(t, drop)
	if err := fx.runner.Run(ctx, ids, nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fx.files.batches) != 1 {
		t.Fatalf("deletions must go out as one batch, got %d", len(fx.files.batches))
	}
	// Every copy held on the dropped storage is ordered deleted.
	all := fx.files.all()
	if len(all) != 2 {
		t.Fatalf("expected 2 deletions, got %v", all)
	}
	for _, deletion := range all {
		if deletion.Storage != "cold" {
			t.Errorf("deletion targets storage %q, want cold", deletion.Storage)
		}
	}
}
