package update

import (
	"fmt"
	"strings"

	"archon/internal/request"
	"archon/internal/services/filestore"
)

// Step applies one category of mutation to a draft. Steps are pure with
// respect to the stores: they mutate the wrapped package and accumulate
// side effects, never persisting anything themselves.
type Step func(*Draft, request.UpdateTask) error

// Apply dispatches a task to the step owning its type. The task-type set
// is closed, so dispatch is a plain match rather than dynamic lookup.
func Apply(draft *Draft, task request.UpdateTask) error {
	switch task.Type {
	case request.TaskAddFileLocation, request.TaskRemoveFileLocation:
		return ApplyLocation(draft, task)
	case request.TaskAddTag, request.TaskRemoveTag, request.TaskAddCategory, request.TaskRemoveCategory:
		return ApplyProperty(draft, task)
	case request.TaskRemoveStorage:
		return ApplyStorage(draft, task)
	default:
		return fmt.Errorf("no update step handles task type %q", task.Type)
	}
}

// ApplyLocation adds or removes one file's storage-location reference.
// Removing the last reference to a stored copy emits a file-deletion side
// effect for the storage transport.
func ApplyLocation(draft *Draft, task request.UpdateTask) error {
	switch task.Type {
	case request.TaskAddFileLocation, request.TaskRemoveFileLocation:
	default:
		return fmt.Errorf("location step does not handle task type %q", task.Type)
	}
	if task.Location == nil {
		return fmt.Errorf("%s task is missing its file location", task.Type)
	}
	location := *task.Location
	if strings.TrimSpace(location.Checksum) == "" || strings.TrimSpace(location.Storage) == "" {
		return fmt.Errorf("%s task requires checksum and storage", task.Type)
	}

	pkg := draft.Package()
	if task.Type == request.TaskAddFileLocation {
		for _, file := range pkg.Files {
			if file.Checksum == location.Checksum && file.Storage == location.Storage {
				return nil
			}
		}
		pkg.Files = append(pkg.Files, location)
		if !containsString(pkg.Storages, location.Storage) {
			pkg.Storages = append(pkg.Storages, location.Storage)
		}
		draft.markDirty()
		return nil
	}

	remaining := 0
	index := -1
	for i, file := range pkg.Files {
		if file.Checksum == location.Checksum && file.Storage == location.Storage {
			remaining++
			if index < 0 {
				index = i
			}
		}
	}
	if index < 0 {
		return fmt.Errorf("file %s has no location on storage %s", location.Checksum, location.Storage)
	}
	pkg.Files = append(pkg.Files[:index:index], pkg.Files[index+1:]...)
	if remaining == 1 {
		draft.addDeletion(filestore.Deletion{
			Checksum:  location.Checksum,
			Storage:   location.Storage,
			PackageID: pkg.PackageID,
		})
	}
	draft.markDirty()
	return nil
}

// ApplyProperty adds or removes a tag or category. Property changes are
// set-idempotent: the draft only becomes dirty when the set actually
// changed.
func ApplyProperty(draft *Draft, task request.UpdateTask) error {
	value := strings.TrimSpace(task.Value)
	pkg := draft.Package()

	var changed bool
	switch task.Type {
	case request.TaskAddTag:
		if value == "" {
			return fmt.Errorf("%s task requires a tag value", task.Type)
		}
		changed = pkg.AddTag(value)
	case request.TaskRemoveTag:
		if value == "" {
			return fmt.Errorf("%s task requires a tag value", task.Type)
		}
		changed = pkg.RemoveTag(value)
	case request.TaskAddCategory:
		if value == "" {
			return fmt.Errorf("%s task requires a category value", task.Type)
		}
		changed = pkg.AddCategory(value)
	case request.TaskRemoveCategory:
		if value == "" {
			return fmt.Errorf("%s task requires a category value", task.Type)
		}
		changed = pkg.RemoveCategory(value)
	default:
		return fmt.Errorf("property step does not handle task type %q", task.Type)
	}

	if changed {
		draft.markDirty()
	}
	return nil
}

// ApplyStorage removes a decommissioned storage backend from the package's
// eligible-storage set, dropping any file references held there and
// queueing their deletion.
func ApplyStorage(draft *Draft, task request.UpdateTask) error {
	if task.Type != request.TaskRemoveStorage {
		return fmt.Errorf("storage step does not handle task type %q", task.Type)
	}
	storage := strings.TrimSpace(task.Value)
	if storage == "" {
		return fmt.Errorf("%s task requires a storage name", task.Type)
	}

	pkg := draft.Package()
	changed := pkg.RemoveStorage(storage)

	kept := pkg.Files[:0]
	for _, file := range pkg.Files {
		if file.Storage == storage {
			draft.addDeletion(filestore.Deletion{
				Checksum:  file.Checksum,
				Storage:   file.Storage,
				PackageID: pkg.PackageID,
			})
			changed = true
			continue
		}
		kept = append(kept, file)
	}
	pkg.Files = kept

	if changed {
		draft.markDirty()
	}
	return nil
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
