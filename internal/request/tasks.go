package request

import (
	"sort"

	"archon/internal/catalog"
)

// TaskType identifies one category of package mutation. The set is closed;
// ordering logic depends on the explicit rank below.
type TaskType string

const (
	TaskRemoveFileLocation TaskType = "REMOVE_FILE_LOCATION"
	TaskAddFileLocation    TaskType = "ADD_FILE_LOCATION"
	TaskRemoveTag          TaskType = "REMOVE_TAG"
	TaskAddTag             TaskType = "ADD_TAG"
	TaskRemoveCategory     TaskType = "REMOVE_CATEGORY"
	TaskAddCategory        TaskType = "ADD_CATEGORY"
	TaskRemoveStorage      TaskType = "REMOVE_STORAGE"
)

// taskRank fixes the global order in which pending tasks are applied to a
// package within one runner pass. Removals precede additions within each
// property family; storage removal runs last so location tasks see the
// original storage set. Ties are broken by request creation date.
var taskRank = map[TaskType]int{
	TaskRemoveFileLocation: 10,
	TaskAddFileLocation:    20,
	TaskRemoveTag:          30,
	TaskAddTag:             40,
	TaskRemoveCategory:     50,
	TaskAddCategory:        60,
	TaskRemoveStorage:      70,
}

// Rank returns the task type's position in the global application order.
// Unknown types sort last.
func (t TaskType) Rank() int {
	if rank, ok := taskRank[t]; ok {
		return rank
	}
	return 1 << 20
}

// Known reports whether the task type belongs to the closed set.
func (t TaskType) Known() bool {
	_, ok := taskRank[t]
	return ok
}

// UpdateTask is one elementary mutation to apply to a package. Location is
// set for file-location tasks; Value carries the tag, category, or storage
// name for the others.
type UpdateTask struct {
	Type     TaskType              `json:"type"`
	Location *catalog.FileLocation `json:"location,omitempty"`
	Value    string                `json:"value,omitempty"`
}

// SortByTaskOrder orders update requests by (task type rank, creation date
// ascending, id) in place. Running the same set of tasks in any input
// order therefore always applies them identically.
func SortByTaskOrder(reqs []*Request) {
	sort.SliceStable(reqs, func(i, j int) bool {
		left, right := reqs[i], reqs[j]
		leftRank, rightRank := 1<<20, 1<<20
		if left.Update != nil {
			leftRank = left.Update.Type.Rank()
		}
		if right.Update != nil {
			rightRank = right.Update.Type.Rank()
		}
		if leftRank != rightRank {
			return leftRank < rightRank
		}
		if !left.CreatedAt.Equal(right.CreatedAt) {
			return left.CreatedAt.Before(right.CreatedAt)
		}
		return left.ID < right.ID
	})
}
