package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// List returns the ids of the complete segments in folder, those with all
// four files present. The ids are sorted by their string form.
func List(folder string) ([]uuid.UUID, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", folder, err)
	}

	var ids []uuid.UUID
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != BloomExt {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, BloomExt))
		if err != nil || !complete(FilesFor(folder, id)) {
			continue
		}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids, nil
}

func complete(files Files) bool {
	for _, path := range files.All() {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// Remove deletes the files of segment id in folder, bloom first. The segment
// must not be open.
func Remove(id uuid.UUID, folder string) error {
	return removeFiles(FilesFor(folder, id))
}

// RemoveOrphans deletes leftovers of interrupted builds and removals: files
// of segments that have no bloom file, and temporary files. Segments listed
// in live are never touched. It returns the number of files removed.
func RemoveOrphans(folder string, live []uuid.UUID) (int, error) {
	published, err := List(folder)
	if err != nil {
		return 0, err
	}
	keep := make(map[string]bool, len(published)+len(live))
	for _, id := range published {
		keep[id.String()] = true
	}
	for _, id := range live {
		keep[id.String()] = true
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", folder, err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		base, ok := segmentBase(name)
		if !ok || keep[base] {
			continue
		}
		if err := os.Remove(filepath.Join(folder, name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

// segmentBase returns the UUID part of a segment file name or of a
// temporary file left by a build.
func segmentBase(name string) (string, bool) {
	tmp := strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp")
	if tmp {
		name = strings.TrimSuffix(strings.TrimPrefix(name, "."), ".tmp")
	}

	ext := filepath.Ext(name)
	switch ext {
	case KeyIndexExt, BlobIndexExt, StoreExt, BloomExt:
	default:
		return "", false
	}

	base := strings.TrimSuffix(name, ext)
	if _, err := uuid.Parse(base); err != nil {
		return "", false
	}
	if tmp {
		// temporary files never belong to a published segment
		return "." + base, true
	}
	return base, true
}
