package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SelectionMode controls how an explicit package-id list is interpreted.
type SelectionMode string

const (
	// SelectionInclude restricts matches to the listed package ids.
	SelectionInclude SelectionMode = "include"
	// SelectionExclude matches everything except the listed package ids.
	SelectionExclude SelectionMode = "exclude"
)

// Filter describes catalog search criteria. All set criteria are combined
// with AND; empty fields are ignored. The selection mode applies to the
// explicit PackageIDs list.
type Filter struct {
	Mode         SelectionMode `json:"mode"`
	PackageIDs   []string      `json:"package_ids,omitempty"`
	States       []State       `json:"states,omitempty"`
	ProviderIDs  []string      `json:"provider_ids,omitempty"`
	SessionOwner string        `json:"session_owner,omitempty"`
	Session      string        `json:"session,omitempty"`
	Storages     []string      `json:"storages,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	Categories   []string      `json:"categories,omitempty"`
	LastFrom     time.Time     `json:"last_update_from,omitempty"`
	LastTo       time.Time     `json:"last_update_to,omitempty"`
}

// Empty reports whether the filter carries no criteria at all.
func (f Filter) Empty() bool {
	return len(f.PackageIDs) == 0 &&
		len(f.States) == 0 &&
		len(f.ProviderIDs) == 0 &&
		strings.TrimSpace(f.SessionOwner) == "" &&
		strings.TrimSpace(f.Session) == "" &&
		len(f.Storages) == 0 &&
		len(f.Tags) == 0 &&
		len(f.Categories) == 0 &&
		f.LastFrom.IsZero() &&
		f.LastTo.IsZero()
}

// Validate rejects unusable filters. An include-mode filter with no criteria
// would match nothing meaningful and signals a malformed bulk operation; an
// exclude-mode filter with no criteria deliberately means "every package".
func (f Filter) Validate() error {
	switch f.Mode {
	case SelectionInclude:
		if f.Empty() {
			return errors.New("include-mode filter requires at least one criterion")
		}
	case SelectionExclude:
	case "":
		return errors.New("filter selection mode is required")
	default:
		return fmt.Errorf("unknown filter selection mode %q", string(f.Mode))
	}
	return nil
}

// Page describes one keyset-pagination window over the catalog: packages
// with internal id greater than After, ascending, at most Size rows.
type Page struct {
	After int64
	Size  int
}
