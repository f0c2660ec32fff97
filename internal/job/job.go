package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"archon/internal/catalog"
	"archon/internal/request"
)

// ErrCancelled is returned by a job that observed its token and stopped.
// The job finalizes committed work before returning it.
var ErrCancelled = errors.New("job cancelled")

// Token carries a cooperative cancellation signal into a running job.
// Jobs poll it at page and group boundaries only, never mid-task, so a
// fired token aborts whole units of work.
type Token struct {
	fired atomic.Bool
}

// NewToken returns an unfired token.
func NewToken() *Token {
	return &Token{}
}

// Cancel fires the token. Safe to call from any goroutine, repeatedly.
func (t *Token) Cancel() {
	t.fired.Store(true)
}

// Cancelled reports whether the token has fired.
func (t *Token) Cancelled() bool {
	return t.fired.Load()
}

// Clear resets the token. Jobs call it before their finalization writes
// so those writes run uninterrupted, then re-signal via ErrCancelled.
func (t *Token) Clear() {
	t.fired.Store(false)
}

// Progress receives completed-work counts from a running job.
type Progress interface {
	Advance(delta int)
}

// CountingProgress accumulates advances; totals never decrease.
type CountingProgress struct {
	mu    sync.Mutex
	total int
}

func (p *CountingProgress) Advance(delta int) {
	if delta <= 0 {
		return
	}
	p.mu.Lock()
	p.total += delta
	p.mu.Unlock()
}

// Total returns the accumulated count.
func (p *CountingProgress) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

type noopProgress struct{}

func (noopProgress) Advance(int) {}

func ensureProgress(progress Progress) Progress {
	if progress == nil {
		return noopProgress{}
	}
	return progress
}

// RequestStore is the slice of the request store the jobs consume.
type RequestStore interface {
	Get(ctx context.Context, id string) (*request.Request, error)
	FindByIDs(ctx context.Context, ids []string) ([]*request.Request, error)
	FindByFilter(ctx context.Context, filter request.Filter, limit int) ([]*request.Request, error)
	HasActiveFor(ctx context.Context, packageID string) (bool, error)
	Save(ctx context.Context, req *request.Request) error
	SaveAll(ctx context.Context, reqs []*request.Request) error
	Delete(ctx context.Context, id string) (bool, error)
	DeleteAll(ctx context.Context, ids []string) (int64, error)
}

// Catalog is the slice of the package catalog the jobs consume.
type Catalog interface {
	Search(ctx context.Context, filter catalog.Filter, page catalog.Page) ([]*catalog.Package, error)
	GetByPackageID(ctx context.Context, packageID string) (*catalog.Package, error)
	Save(ctx context.Context, pkg *catalog.Package) error
	SaveAll(ctx context.Context, pkgs []*catalog.Package) error
	Remove(ctx context.Context, packageID string) (bool, error)
}
