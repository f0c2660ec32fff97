package request

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"archon/internal/catalog"
)

// State represents the lifecycle of a request.
type State string

const (
	StateToSchedule      State = "to_schedule"
	StatePending         State = "pending"
	StateRunning         State = "running"
	StateError           State = "error"
	StateAborted         State = "aborted"
	StateWaitingDecision State = "waiting_decision"
)

var allStates = []State{
	StateToSchedule,
	StatePending,
	StateRunning,
	StateError,
	StateAborted,
	StateWaitingDecision,
}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

// ActiveStates are the states that block a new request from running
// against the same package.
var ActiveStates = []State{StateToSchedule, StatePending, StateRunning}

// RetryableStates are the only states the retry job may touch.
var RetryableStates = []State{StateError, StateAborted}

// AllStates returns the ordered list of known request states.
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

// Step is the finer-grained phase marker used for safe resume. A request
// at StepNotifyError already mutated its package; only the external
// announcement must be replayed.
type Step string

const (
	StepLocal         Step = "local"
	StepNotifyPending Step = "notify_pending"
	StepNotifyError   Step = "notify_error"
)

// Kind discriminates the request payload variants.
type Kind string

const (
	KindUpdate               Kind = "update"
	KindDeletion             Kind = "deletion"
	KindDissemination        Kind = "dissemination"
	KindUpdateCreator        Kind = "update_creator"
	KindDeletionCreator      Kind = "deletion_creator"
	KindDisseminationCreator Kind = "dissemination_creator"
)

var allKinds = []Kind{
	KindUpdate,
	KindDeletion,
	KindDissemination,
	KindUpdateCreator,
	KindDeletionCreator,
	KindDisseminationCreator,
}

// AllKinds returns the ordered list of known request kinds.
func AllKinds() []Kind {
	cp := make([]Kind, len(allKinds))
	copy(cp, allKinds)
	return cp
}

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	normalized := Kind(strings.ToLower(strings.TrimSpace(value)))
	for _, kind := range allKinds {
		if kind == normalized {
			return kind, true
		}
	}
	return "", false
}

// IsCreator reports whether requests of this kind target a filter set
// rather than a single package.
func (k Kind) IsCreator() bool {
	switch k {
	case KindUpdateCreator, KindDeletionCreator, KindDisseminationCreator:
		return true
	default:
		return false
	}
}

// Request is one unit of lifecycle work. The header fields are shared by
// every kind; exactly one payload pointer is set, matching Kind.
type Request struct {
	ID              string
	Kind            Kind
	State           State
	Step            Step
	TargetPackageID string
	Errors          []string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Update               *UpdateTask
	Deletion             *DeletionPayload
	Dissemination        *DisseminationPayload
	UpdateCreator        *UpdateCreatorPayload
	DeletionCreator      *DeletionCreatorPayload
	DisseminationCreator *DisseminationCreatorPayload
}

// RecordError appends an error message and moves the request to the error
// state. The step is left untouched so notification retries keep their
// resume point.
func (r *Request) RecordError(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "unknown failure"
	}
	r.Errors = append(r.Errors, message)
	r.State = StateError
}

func newRequest(kind Kind, target string) *Request {
	return &Request{
		ID:              uuid.NewString(),
		Kind:            kind,
		State:           StateToSchedule,
		Step:            StepLocal,
		TargetPackageID: target,
		CreatedAt:       time.Now().UTC(),
	}
}

// NewUpdate builds a per-package update request carrying one mutation task.
func NewUpdate(target string, task UpdateTask) *Request {
	req := newRequest(KindUpdate, target)
	req.Update = &task
	return req
}

// NewDeletion builds a per-package deletion request.
func NewDeletion(target string, payload DeletionPayload) *Request {
	req := newRequest(KindDeletion, target)
	req.Deletion = &payload
	return req
}

// NewDissemination builds a per-package dissemination request.
func NewDissemination(target string, payload DisseminationPayload) *Request {
	req := newRequest(KindDissemination, target)
	req.Dissemination = &payload
	return req
}

// NewUpdatesCreator builds a bulk-update creator request.
func NewUpdatesCreator(payload UpdateCreatorPayload) *Request {
	req := newRequest(KindUpdateCreator, "")
	req.UpdateCreator = &payload
	return req
}

// NewDeletionCreator builds a bulk-deletion creator request.
func NewDeletionCreator(payload DeletionCreatorPayload) *Request {
	req := newRequest(KindDeletionCreator, "")
	req.DeletionCreator = &payload
	return req
}

// NewDisseminationCreator builds a bulk-dissemination creator request.
func NewDisseminationCreator(payload DisseminationCreatorPayload) *Request {
	req := newRequest(KindDisseminationCreator, "")
	req.DisseminationCreator = &payload
	return req
}

// DeletionMode selects how a deletion request removes its package.
type DeletionMode string

const (
	// DeletionLogical marks the package deleted but keeps the catalog row.
	DeletionLogical DeletionMode = "logical"
	// DeletionPhysical removes the catalog row entirely.
	DeletionPhysical DeletionMode = "physical"
)

// DeletionPayload parameterizes one package deletion.
type DeletionPayload struct {
	Mode        DeletionMode `json:"mode"`
	RemoveFiles bool         `json:"remove_files"`
}

// DisseminationPayload lists the external recipients of one package.
type DisseminationPayload struct {
	Recipients []string `json:"recipients"`
}

// UpdateCreatorPayload describes a bulk mutation: a catalog filter plus the
// property changes to fan out to every matching package.
type UpdateCreatorPayload struct {
	Filter           catalog.Filter         `json:"filter"`
	AddTags          []string               `json:"add_tags,omitempty"`
	RemoveTags       []string               `json:"remove_tags,omitempty"`
	AddCategories    []string               `json:"add_categories,omitempty"`
	RemoveCategories []string               `json:"remove_categories,omitempty"`
	RemoveStorages   []string               `json:"remove_storages,omitempty"`
	AddLocations     []catalog.FileLocation `json:"add_locations,omitempty"`
	RemoveLocations  []catalog.FileLocation `json:"remove_locations,omitempty"`
}

// Tasks expands the payload into the per-package task list, one task per
// elementary mutation.
func (p UpdateCreatorPayload) Tasks() []UpdateTask {
	var tasks []UpdateTask
	for _, loc := range p.RemoveLocations {
		loc := loc
		tasks = append(tasks, UpdateTask{Type: TaskRemoveFileLocation, Location: &loc})
	}
	for _, loc := range p.AddLocations {
		loc := loc
		tasks = append(tasks, UpdateTask{Type: TaskAddFileLocation, Location: &loc})
	}
	for _, tag := range p.RemoveTags {
		tasks = append(tasks, UpdateTask{Type: TaskRemoveTag, Value: tag})
	}
	for _, tag := range p.AddTags {
		tasks = append(tasks, UpdateTask{Type: TaskAddTag, Value: tag})
	}
	for _, category := range p.RemoveCategories {
		tasks = append(tasks, UpdateTask{Type: TaskRemoveCategory, Value: category})
	}
	for _, category := range p.AddCategories {
		tasks = append(tasks, UpdateTask{Type: TaskAddCategory, Value: category})
	}
	for _, storage := range p.RemoveStorages {
		tasks = append(tasks, UpdateTask{Type: TaskRemoveStorage, Value: storage})
	}
	return tasks
}

// Empty reports whether the payload carries no mutation at all.
func (p UpdateCreatorPayload) Empty() bool {
	return len(p.Tasks()) == 0
}

// DeletionCreatorPayload describes a bulk deletion over a catalog filter.
type DeletionCreatorPayload struct {
	Filter      catalog.Filter `json:"filter"`
	Mode        DeletionMode   `json:"mode"`
	RemoveFiles bool           `json:"remove_files"`
}

// DisseminationCreatorPayload describes a bulk dissemination over a
// catalog filter.
type DisseminationCreatorPayload struct {
	Filter     catalog.Filter `json:"filter"`
	Recipients []string       `json:"recipients"`
}
