package update

import (
	"errors"

	"archon/internal/catalog"
	"archon/internal/services/filestore"
)

// Draft binds one package to the side effects accumulated while replaying
// its task list. Steps mutate the package through the draft and record
// whether anything observably changed; a pristine draft is never persisted
// and queues no notification.
type Draft struct {
	pkg       *catalog.Package
	dirty     bool
	deletions []filestore.Deletion
}

// NewDraft wraps a package for one runner pass.
func NewDraft(pkg *catalog.Package) (*Draft, error) {
	if pkg == nil {
		return nil, errors.New("draft requires a package")
	}
	return &Draft{pkg: pkg}, nil
}

// Package exposes the wrapped package.
func (d *Draft) Package() *catalog.Package {
	return d.pkg
}

// Pristine reports whether no observable change occurred.
func (d *Draft) Pristine() bool {
	return !d.dirty
}

// markDirty records that the package diverged from its stored form.
func (d *Draft) markDirty() {
	d.dirty = true
}

// addDeletion queues one file-deletion side effect for batch dispatch
// after all groups are processed.
func (d *Draft) addDeletion(deletion filestore.Deletion) {
	d.deletions = append(d.deletions, deletion)
}

// Deletions returns the accumulated file-deletion side effects.
func (d *Draft) Deletions() []filestore.Deletion {
	return d.deletions
}
