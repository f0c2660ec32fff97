package catalog

import (
	"strings"
	"time"
)

// State represents the lifecycle of an archival package in the catalog.
type State string

const (
	StateGenerated State = "generated"
	StateStored    State = "stored"
	StateDeleted   State = "deleted"
)

var allStates = []State{StateGenerated, StateStored, StateDeleted}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

// AllStates returns the ordered list of known package states.
func AllStates() []State {
	cp := make([]State, len(allStates))
	copy(cp, allStates)
	return cp
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stateSet[normalized]
	return normalized, ok
}

// FileLocation references one stored copy of a package file.
type FileLocation struct {
	Checksum string `json:"checksum"`
	Storage  string `json:"storage"`
	URI      string `json:"uri"`
}

// Package represents an archival package persisted in the catalog.
// The numeric ID is a stable ascending identifier used for keyset
// pagination; PackageID is the business identifier requests target.
type Package struct {
	ID           int64
	PackageID    string
	ProviderID   string
	SessionOwner string
	Session      string
	State        State
	Checksum     string
	Tags         []string
	Categories   []string
	Storages     []string
	Files        []FileLocation
	LastUpdate   time.Time
	CreatedAt    time.Time
}

// HasTag reports whether the package carries the given tag.
func (p *Package) HasTag(tag string) bool {
	return containsString(p.Tags, tag)
}

// AddTag appends a tag and reports whether the tag set changed.
func (p *Package) AddTag(tag string) bool {
	if containsString(p.Tags, tag) {
		return false
	}
	p.Tags = append(p.Tags, tag)
	return true
}

// RemoveTag drops a tag and reports whether the tag set changed.
func (p *Package) RemoveTag(tag string) bool {
	next, changed := removeString(p.Tags, tag)
	p.Tags = next
	return changed
}

// AddCategory appends a category and reports whether the set changed.
func (p *Package) AddCategory(category string) bool {
	if containsString(p.Categories, category) {
		return false
	}
	p.Categories = append(p.Categories, category)
	return true
}

// RemoveCategory drops a category and reports whether the set changed.
func (p *Package) RemoveCategory(category string) bool {
	next, changed := removeString(p.Categories, category)
	p.Categories = next
	return changed
}

// RemoveStorage drops a storage backend from the eligible-storage set and
// reports whether the set changed.
func (p *Package) RemoveStorage(storage string) bool {
	next, changed := removeString(p.Storages, storage)
	p.Storages = next
	return changed
}

// FilesOn returns the file locations held on the named storage backend.
func (p *Package) FilesOn(storage string) []FileLocation {
	var matches []FileLocation
	for _, file := range p.Files {
		if file.Storage == storage {
			matches = append(matches, file)
		}
	}
	return matches
}

// LocationCount returns how many stored copies reference the given checksum.
func (p *Package) LocationCount(checksum string) int {
	count := 0
	for _, file := range p.Files {
		if file.Checksum == checksum {
			count++
		}
	}
	return count
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func removeString(values []string, value string) ([]string, bool) {
	for i, v := range values {
		if v == value {
			return append(values[:i:i], values[i+1:]...), true
		}
	}
	return values, false
}
