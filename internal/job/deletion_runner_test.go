package job_test

import (
	"context"
	"testing"

	"archon/internal/catalog"
	"archon/internal/job"
	"archon/internal/logging"
	"archon/internal/request"
	"archon/internal/testsupport"
)

type deletionFixture struct {
	requests *request.Store
	catalog  *countingCatalog
	files    *recordingTransport
	runner   *job.DeletionRunner
}

func newDeletionFixture(t *testing.T) *deletionFixture {
	t.Helper()
	handle := testsupport.MustOpenDB(t)
	fx := &deletionFixture{
		requests: testsupport.MustRequestStore(t, handle),
		catalog:  &countingCatalog{Store: testsupport.MustCatalogStore(t, handle)},
		files:    &recordingTransport{},
	}
	fx.runner = job.NewDeletionRunner(fx.requests, fx.catalog, fx.files, inactiveNotify{}, logging.NewNop())
	return fx
}

func TestDeletionRunnerLogicalKeepsRow(t *testing.T) {
	fx := newDeletionFixture(t)
	ctx := context.Background()

	testsupport.NewPackage(t, fx.catalog.Store, "pkg-a")

	req := request.NewDeletion("pkg-a", request.DeletionPayload{Mode: request.DeletionLogical})
	if err := fx.requests.Save(ctx, req); err != nil {
		t.Fatalf("save request: %v", err)
	}
	if err := fx.runner.Run(ctx, []string{req.ID}, nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	pkg, err := fx.catalog.Store.GetByPackageID(ctx, "pkg-a")
	if err != nil {
		t.Fatalf("reload package: %v", err)
	}
	if pkg == nil {
		t.Fatal("logical deletion must keep the catalog row")
	}
	if pkg.State != catalog.StateDeleted {
		t.Fatalf("state = %s, want deleted", pkg.State)
	}
	if left, _ := fx.requests.Get(ctx, req.ID); left != nil {
		t.Fatalf("request should be retired, got %+v", left)
	}
}

func TestDeletionRunnerPhysicalRemovesRowAndFiles(t *testing.T) {
	fx := newDeletionFixture(t)
	ctx := context.Background()

	testsupport.NewPackage(t, fx.catalog.Store, "pkg-a", func(pkg *catalog.Package) {
		pkg.Storages = []string{"cold"}
		pkg.Files = []catalog.FileLocation{
			{Checksum: "f1", Storage: "cold", URI: "cold://f1"},
			{Checksum: "f2", Storage: "cold", URI: "cold://f2"},
		}
	})

	req := request.NewDeletion("pkg-a", request.DeletionPayload{
		Mode:        request.DeletionPhysical,
		RemoveFiles: true,
	})
	if err := fx.requests.Save(ctx, req); err != nil {
		t.Fatalf("save request: %v", err)
	}
	if err := fx.runner.Run(ctx, []string{req.ID}, nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	pkg, err := fx.catalog.Store.GetByPackageID(ctx, "pkg-a")
	if err != nil {
		t.Fatalf("reload package: %v", err)
	}
	if pkg != nil {
		t.Fatal("physical deletion must remove the catalog row")
	}
	if got := len(fx.files.all()); got != 2 {
		t.Fatalf("expected 2 file deletions, got %d", got)
	}
}

// strippedPayloadStore hands out deletion requests whose payload was lost,
// the shape a corrupted row decodes to. Persistence is captured in memory
// so the payload-less requests don't trip the store's encode guard.
type strippedPayloadStore struct {
	*request.Store
	persisted []*request.Request
}

func (s *strippedPayloadStore) FindByIDs(ctx context.Context, ids []string) ([]*request.Request, error) {
	reqs, err := s.Store.FindByIDs(ctx, ids)
	for _, req := range reqs {
		req.Deletion = nil
	}
	return reqs, err
}

func (s *strippedPayloadStore) SaveAll(ctx context.Context, reqs []*request.Request) error {
	s.persisted = append(s.persisted, reqs...)
	return nil
}

func TestDeletionRunnerPayloadlessGroupLeavesPackageAlone(t *testing.T) {
	fx := newDeletionFixture(t)
	ctx := context.Background()

	testsupport.NewPackage(t, fx.catalog.Store, "pkg-a")

	req := request.NewDeletion("pkg-a", request.DeletionPayload{Mode: request.DeletionLogical})
	if err := fx.requests.Save(ctx, req); err != nil {
		t.Fatalf("save request: %v", err)
	}

	store := &strippedPayloadStore{Store: fx.requests}
	runner := job.NewDeletionRunner(store, fx.catalog, fx.files, inactiveNotify{}, logging.NewNop())
	if err := runner.Run(ctx, []string{req.ID}, nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	pkg, err := fx.catalog.Store.GetByPackageID(ctx, "pkg-a")
	if err != nil {
		t.Fatalf("reload package: %v", err)
	}
	if pkg == nil {
		t.Fatal("package row must survive a payload-less group")
	}
	if pkg.State == catalog.StateDeleted {
		t.Fatal("package must not be marked deleted without a valid payload")
	}
	if got := len(fx.files.all()); got != 0 {
		t.Fatalf("expected no file deletions, got %d", got)
	}

	if len(store.persisted) != 1 {
		t.Fatalf("expected 1 persisted request, got %d", len(store.persisted))
	}
	failed := store.persisted[0]
	if failed.State != request.StateError || len(failed.Errors) == 0 {
		t.Fatalf("payload-less request should fail, got state=%s errors=%v", failed.State, failed.Errors)
	}
}

func TestDeletionRunnerMissingPackageFailsRequest(t *testing.T) {
	fx := newDeletionFixture(t)
	ctx := context.Background()

	req := request.NewDeletion("pkg-ghost", request.DeletionPayload{Mode: request.DeletionLogical})
	if err := fx.requests.Save(ctx, req); err != nil {
		t.Fatalf("save request: %v", err)
	}
	if err := fx.runner.Run(ctx, []string{req.ID}, nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	kept, err := fx.requests.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("reload request: %v", err)
	}
	if kept == nil || kept.State != request.StateError || len(kept.Errors) == 0 {
		t.Fatalf("request against a missing package should fail, got %+v", kept)
	}
}
