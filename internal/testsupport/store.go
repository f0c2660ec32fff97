package testsupport

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"archon/internal/catalog"
	"archon/internal/db"
	"archon/internal/request"
)

// MustOpenDB opens a throwaway SQLite database for tests and registers
// cleanup.
func MustOpenDB(t testing.TB) *sql.DB {
	t.Helper()

	handle, err := db.OpenAt(filepath.Join(t.TempDir(), "archon.db"))
	if err != nil {
		t.Fatalf("db.OpenAt: %v", err)
	}
	t.Cleanup(func() {
		_ = handle.Close()
	})
	return handle
}

// MustRequestStore opens a request store over the given database.
func MustRequestStore(t testing.TB, handle *sql.DB) *request.Store {
	t.Helper()

	store, err := request.NewStore(handle)
	if err != nil {
		t.Fatalf("request.NewStore: %v", err)
	}
	return store
}

// MustCatalogStore opens a catalog store over the given database.
func MustCatalogStore(t testing.TB, handle *sql.DB) *catalog.Store {
	t.Helper()

	store, err := catalog.NewStore(handle)
	if err != nil {
		t.Fatalf("catalog.NewStore: %v", err)
	}
	return store
}

// NewPackage persists a stored package with the given business id and
// returns it with its catalog row id populated.
func NewPackage(t testing.TB, store *catalog.Store, packageID string, mutate ...func(*catalog.Package)) *catalog.Package {
	t.Helper()

	pkg := &catalog.Package{
		PackageID:    packageID,
		ProviderID:   "provider-" + packageID,
		SessionOwner: "tester",
		Session:      "session-1",
		State:        catalog.StateStored,
		Checksum:     "sum-" + packageID,
		LastUpdate:   time.Now().UTC(),
		CreatedAt:    time.Now().UTC(),
	}
	for _, fn := range mutate {
		fn(pkg)
	}
	if err := store.Save(context.Background(), pkg); err != nil {
		t.Fatalf("catalog save %s: %v", packageID, err)
	}
	saved, err := store.GetByPackageID(context.Background(), packageID)
	if err != nil {
		t.Fatalf("catalog reload %s: %v", packageID, err)
	}
	if saved == nil {
		t.Fatalf("catalog reload %s: not found", packageID)
	}
	return saved
}
