package segment

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileManager writes one segment file under a temporary name and renames it
// into place once it is complete.
type FileManager struct {
	path    string
	tmpPath string
	file    *os.File
	renamed bool
}

// NewFileManager creates a FileManager for the given final path
func NewFileManager(path string) (*FileManager, error) {
	tmpPath := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.tmp", filepath.Base(path)))

	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	return &FileManager{
		path:    path,
		tmpPath: tmpPath,
		file:    file,
	}, nil
}

// Write writes data to the temporary file
func (fm *FileManager) Write(data []byte) (int, error) {
	return fm.file.Write(data)
}

// Close closes the temporary file
func (fm *FileManager) Close() error {
	if fm.file == nil {
		return nil
	}
	err := fm.file.Close()
	fm.file = nil
	return err
}

// FinalizeFile optionally syncs, closes and renames the file to its final path
func (fm *FileManager) FinalizeFile(sync bool) error {
	if sync {
		if err := fm.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync file: %w", err)
		}
	}

	if err := fm.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(fm.tmpPath, fm.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	fm.renamed = true

	return nil
}

// Cleanup removes whatever this manager left on disk, the temporary file
// or, once renamed, the final file.
func (fm *FileManager) Cleanup() error {
	fm.Close()

	target := fm.tmpPath
	if fm.renamed {
		target = fm.path
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Path returns the final path
func (fm *FileManager) Path() string {
	return fm.path
}
