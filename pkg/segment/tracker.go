package segment

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/speedykv/speedykv/pkg/common/log"
)

// Tracker counts open handles per segment and defers removal of retired
// segments until their last handle is closed.
type Tracker struct {
	// Map of segment id -> number of open handles
	refs map[uuid.UUID]int

	// Map of segment id -> files waiting for removal
	retired map[uuid.UUID]Files

	logger log.Logger
	mu     sync.Mutex
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		refs:    make(map[uuid.UUID]int),
		retired: make(map[uuid.UUID]Files),
		logger:  log.Component("tracker"),
	}
}

// Acquire registers an open handle of segment id
func (t *Tracker) Acquire(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refs[id]++
}

// Release drops a handle of segment id. When the last handle of a retired
// segment is released its files are removed.
func (t *Tracker) Release(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.refs[id] <= 1 {
		delete(t.refs, id)
	} else {
		t.refs[id]--
		return nil
	}

	files, ok := t.retired[id]
	if !ok {
		return nil
	}
	if err := removeFiles(files); err != nil {
		return err
	}
	delete(t.retired, id)
	t.logger.Debug("Removed retired segment %s", id)
	return nil
}

// Retire marks segment id for removal. The files are removed right away if
// no handle is open, otherwise on the last Release. It reports whether the
// removal was deferred.
func (t *Tracker) Retire(id uuid.UUID, files Files) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.refs[id] > 0 {
		t.retired[id] = files
		return true, nil
	}
	if err := removeFiles(files); err != nil {
		// keep it so Cleanup can retry
		t.retired[id] = files
		return false, err
	}
	return false, nil
}

// Cleanup removes every retired segment that has no open handle left
func (t *Tracker) Cleanup() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for id, files := range t.retired {
		if t.refs[id] > 0 {
			continue
		}
		if err := removeFiles(files); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(t.retired, id)
	}
	return errors.Join(errs...)
}

// Pending returns the number of retired segments not yet removed
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.retired)
}

// Refs returns the number of open handles of segment id
func (t *Tracker) Refs(id uuid.UUID) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.refs[id]
}

// removeFiles deletes the files of a segment, bloom first. Files that are
// already gone are ignored.
func removeFiles(files Files) error {
	for _, path := range files.removalOrder() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete segment file %s: %w", path, err)
		}
	}
	return nil
}
