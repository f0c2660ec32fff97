package job_test

import (
	"context"
	"errors"
	"testing"

	"archon/internal/job"
	"archon/internal/logging"
	"archon/internal/request"
	"archon/internal/services/dissemination"
	"archon/internal/testsupport"
)

type fakeDisseminator struct {
	orders []dissemination.Order
	failOn map[string]bool
}

func (d *fakeDisseminator) Disseminate(_ context.Context, order dissemination.Order) error {
	d.orders = append(d.orders, order)
	if d.failOn[order.PackageID] {
		return errors.New("recipient unreachable")
	}
	return nil
}

func (d *fakeDisseminator) Close() {}

func TestDisseminationRunnerFailureIsolation(t *testing.T) {
	handle := testsupport.MustOpenDB(t)
	requests := testsupport.MustRequestStore(t, handle)
	cat := testsupport.MustCatalogStore(t, handle)
	ctx := context.Background()

	testsupport.NewPackage(t, cat, "pkg-ok")
	testsupport.NewPackage(t, cat, "pkg-bad")

	sink := &fakeDisseminator{failOn: map[string]bool{"pkg-bad": true}}
	runner := job.NewDisseminationRunner(requests, cat, sink, logging.NewNop())

	ok := request.NewDissemination("pkg-ok", request.DisseminationPayload{Recipients: []string{"mirror-a"}})
	bad := request.NewDissemination("pkg-bad", request.DisseminationPayload{Recipients: []string{"mirror-a"}})
	if err := requests.SaveAll(ctx, []*request.Request{ok, bad}); err != nil {
		t.Fatalf("save requests: %v", err)
	}

	progress := &job.CountingProgress{}
	if err := runner.Run(ctx, []string{ok.ID, bad.ID}, nil, progress); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(sink.orders) != 2 {
		t.Fatalf("expected both orders attempted, got %d", len(sink.orders))
	}
	if left, _ := requests.Get(ctx, ok.ID); left != nil {
		t.Fatalf("delivered request should be retired, got %+v", left)
	}
	kept, err := requests.Get(ctx, bad.ID)
	if err != nil {
		t.Fatalf("reload failed request: %v", err)
	}
	if kept == nil || kept.State != request.StateError {
		t.Fatalf("failed delivery should mark its request, got %+v", kept)
	}
	if progress.Total() != 1 {
		t.Errorf("progress total = %d, want 1", progress.Total())
	}
}
