package request_test

import (
	"context"
	"testing"

	"archon/internal/catalog"
	"archon/internal/request"
	"archon/internal/testsupport"
)

func TestSaveRoundTripsPayloads(t *testing.T) {
	handle := testsupport.MustOpenDB(t)
	store := testsupport.MustRequestStore(t, handle)
	ctx := context.Background()

	update := request.NewUpdate("pkg-1", request.UpdateTask{Type: request.TaskAddTag, Value: "fresh"})
	deletion := request.NewDeletion("pkg-2", request.DeletionPayload{Mode: request.DeletionPhysical, RemoveFiles: true})
	creator := request.NewUpdatesCreator(request.UpdateCreatorPayload{
		Filter:  catalog.Filter{Mode: catalog.SelectionInclude, Tags: []string{"old"}},
		AddTags: []string{"fresh"},
	})

	if err := store.SaveAll(ctx, []*request.Request{update, deletion, creator}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, update.ID)
	if err != nil {
		t.Fatalf("get update: %v", err)
	}
	if got.Update == nil || got.Update.Type != request.TaskAddTag || got.Update.Value != "fresh" {
		t.Fatalf("update payload lost: %+v", got.Update)
	}

	got, err = store.Get(ctx, deletion.ID)
	if err != nil {
		t.Fatalf("get deletion: %v", err)
	}
	if got.Deletion == nil || got.Deletion.Mode != request.DeletionPhysical || !got.Deletion.RemoveFiles {
		t.Fatalf("deletion payload lost: %+v", got.Deletion)
	}

	got, err = store.Get(ctx, creator.ID)
	if err != nil {
		t.Fatalf("get creator: %v", err)
	}
	if got.UpdateCreator == nil || got.UpdateCreator.Filter.Mode != catalog.SelectionInclude {
		t.Fatalf("creator payload lost: %+v", got.UpdateCreator)
	}
}

func TestHasActiveForGuard(t *testing.T) {
	handle := testsupport.MustOpenDB(t)
	store := testsupport.MustRequestStore(t, handle)
	ctx := context.Background()

	active, err := store.HasActiveFor(ctx, "pkg-1")
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if active {
		t.Fatal("empty store should report no active request")
	}

	req := request.NewUpdate("pkg-1", request.UpdateTask{Type: request.TaskAddTag, Value: "x"})
	if err := store.Save(ctx, req); err != nil {
		t.Fatalf("save: %v", err)
	}
	active, err = store.HasActiveFor(ctx, "pkg-1")
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if !active {
		t.Fatal("to_schedule request should count as active")
	}

	// Terminal states do not block.
	req.State = request.StateError
	if err := store.Save(ctx, req); err != nil {
		t.Fatalf("resave: %v", err)
	}
	active, err = store.HasActiveFor(ctx, "pkg-1")
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if active {
		t.Fatal("errored request must not block new work")
	}
}

func TestHasBlockingForExcludesSelfAndPending(t *testing.T) {
	handle := testsupport.MustOpenDB(t)
	store := testsupport.MustRequestStore(t, handle)
	ctx := context.Background()

	pending := request.NewUpdate("pkg-1", request.UpdateTask{Type: request.TaskAddTag, Value: "x"})
	pending.State = request.StatePending
	if err := store.Save(ctx, pending); err != nil {
		t.Fatalf("save: %v", err)
	}

	blocked, err := store.HasBlockingFor(ctx, "pkg-1", pending.ID)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if blocked {
		t.Fatal("a request must not block its own promotion, and pending peers do not block")
	}

	runner := request.NewUpdate("pkg-1", request.UpdateTask{Type: request.TaskAddTag, Value: "y"})
	runner.State = request.StateRunning
	if err := store.Save(ctx, runner); err != nil {
		t.Fatalf("save: %v", err)
	}
	blocked, err = store.HasBlockingFor(ctx, "pkg-1", pending.ID)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if !blocked {
		t.Fatal("a running peer must block promotion")
	}
}

func TestFindByFilterAndBulkOps(t *testing.T) {
	handle := testsupport.MustOpenDB(t)
	store := testsupport.MustRequestStore(t, handle)
	ctx := context.Background()

	a := request.NewUpdate("pkg-1", request.UpdateTask{Type: request.TaskAddTag, Value: "x"})
	b := request.NewDeletion("pkg-1", request.DeletionPayload{Mode: request.DeletionLogical})
	c := request.NewUpdate("pkg-2", request.UpdateTask{Type: request.TaskAddTag, Value: "x"})
	c.State = request.StateError
	if err := store.SaveAll(ctx, []*request.Request{a, b, c}); err != nil {
		t.Fatalf("save: %v", err)
	}

	byKind, err := store.FindByFilter(ctx, request.Filter{Kinds: []request.Kind{request.KindUpdate}}, 10)
	if err != nil {
		t.Fatalf("find by kind: %v", err)
	}
	if len(byKind) != 2 {
		t.Fatalf("expected 2 update requests, got %d", len(byKind))
	}

	byTarget, err := store.FindByFilter(ctx, request.Filter{TargetPackageID: "pkg-1"}, 10)
	if err != nil {
		t.Fatalf("find by target: %v", err)
	}
	if len(byTarget) != 2 {
		t.Fatalf("expected 2 requests for pkg-1, got %d", len(byTarget))
	}

	updated, err := store.UpdateStateAll(ctx, []string{a.ID, b.ID}, request.StateRunning)
	if err != nil {
		t.Fatalf("update states: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 state updates, got %d", updated)
	}

	removed, err := store.DeleteAll(ctx, []string{a.ID, c.ID})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 deletions, got %d", removed)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[request.StateRunning] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}
