package job_test

import (
	"context"
	"sync"

	"archon/internal/catalog"
	"archon/internal/request"
	"archon/internal/services/filestore"
)

// countingCatalog wraps a catalog store and counts read queries.
type countingCatalog struct {
	*catalog.Store
	mu       sync.Mutex
	searches int
	loads    int

	// afterLoad runs after each GetByPackageID, letting tests fire a
	// cancellation token between groups.
	afterLoad func()
}

func (c *countingCatalog) Search(ctx context.Context, filter catalog.Filter, page catalog.Page) ([]*catalog.Package, error) {
	c.mu.Lock()
	c.searches++
	c.mu.Unlock()
	return c.Store.Search(ctx, filter, page)
}

func (c *countingCatalog) GetByPackageID(ctx context.Context, packageID string) (*catalog.Package, error) {
	c.mu.Lock()
	c.loads++
	c.mu.Unlock()
	pkg, err := c.Store.GetByPackageID(ctx, packageID)
	if c.afterLoad != nil {
		c.afterLoad()
	}
	return pkg, err
}

func (c *countingCatalog) queries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searches + c.loads
}

// recordingTransport captures file deletion batches.
type recordingTransport struct {
	mu      sync.Mutex
	batches [][]filestore.Deletion
}

func (t *recordingTransport) Delete(_ context.Context, batch []filestore.Deletion) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	copied := make([]filestore.Deletion, len(batch))
	copy(copied, batch)
	t.batches = append(t.batches, copied)
	return nil
}

func (t *recordingTransport) all() []filestore.Deletion {
	t.mu.Lock()
	defer t.mu.Unlock()
	var flat []filestore.Deletion
	for _, batch := range t.batches {
		flat = append(flat, batch...)
	}
	return flat
}

// fakeNotify is an active notification service that records sends and
// fails the requests whose package ids appear in failFor.
type fakeNotify struct {
	mu      sync.Mutex
	sent    []*request.Request
	failFor map[string]bool
}

func (n *fakeNotify) Active() bool { return true }

func (n *fakeNotify) Send(_ context.Context, reqs []*request.Request) ([]*request.Request, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var failed []*request.Request
	for _, req := range reqs {
		n.sent = append(n.sent, req)
		if n.failFor[req.TargetPackageID] {
			failed = append(failed, req)
		}
	}
	return failed, nil
}

func (n *fakeNotify) Close() {}

func (n *fakeNotify) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// inactiveNotify reports the fan-out as disabled.
type inactiveNotify struct{}

func (inactiveNotify) Active() bool { return false }

func (inactiveNotify) Send(context.Context, []*request.Request) ([]*request.Request, error) {
	return nil, nil
}

func (inactiveNotify) Close() {}
