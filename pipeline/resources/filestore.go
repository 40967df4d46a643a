package resources

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/aios-systems/aios/core"
)

// FileStore is a directory-backed file resource, storing entries under
// <data_path>/files/<name> per spec §6's persisted state layout.
// Binary entries are written and read as raw bytes.
type FileStore struct {
	root   string
	logger core.Logger
}

// NewFileStore builds a FileStore rooted at root, creating the directory
// if it does not already exist.
func NewFileStore(root string, logger core.Logger) (*FileStore, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, core.NewCoreError(core.LayerResources, core.KindResource, "filestore_init_failed",
			"failed to create file store root", false, err)
	}
	return &FileStore{root: root, logger: logger}, nil
}

// resolve maps a logical name to a path under root, rejecting any name
// that would escape the root via ".." traversal.
func (f *FileStore) resolve(name string) (string, error) {
	clean := filepath.Clean("/" + name)[1:]
	if clean == "" || strings.Contains(name, "..") {
		return "", core.NewCoreError(core.LayerResources, core.KindValidation, "invalid_file_name",
			"file name must not escape the store root", false, nil)
	}
	return filepath.Join(f.root, clean), nil
}

// Write stores data under name, creating any needed subdirectories.
func (f *FileStore) Write(ctx context.Context, name string, data []byte) error {
	path, err := f.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return core.NewCoreError(core.LayerResources, core.KindResource, "filestore_write_failed",
			"failed to create parent directory", true, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return core.NewCoreError(core.LayerResources, core.KindResource, "filestore_write_failed",
			"failed to write file", true, err)
	}
	return nil
}

// Read returns the raw bytes stored under name.
func (f *FileStore) Read(ctx context.Context, name string) ([]byte, error) {
	path, err := f.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, core.NewCoreError(core.LayerResources, core.KindResource, "file_not_found",
			"file does not exist", false, err)
	}
	if err != nil {
		return nil, core.NewCoreError(core.LayerResources, core.KindResource, "filestore_read_failed",
			"failed to read file", true, err)
	}
	return data, nil
}

// Delete removes the file stored under name, if present.
func (f *FileStore) Delete(ctx context.Context, name string) error {
	path, err := f.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return core.NewCoreError(core.LayerResources, core.KindResource, "filestore_delete_failed",
			"failed to delete file", true, err)
	}
	return nil
}

// Exists reports whether name is present in the store.
func (f *FileStore) Exists(ctx context.Context, name string) (bool, error) {
	path, err := f.resolve(name)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		return false, nil
	}
	if statErr != nil {
		return false, core.NewCoreError(core.LayerResources, core.KindResource, "filestore_stat_failed",
			"failed to stat file", true, statErr)
	}
	return true, nil
}

// List returns every file name under the store root, relative to it,
// per spec §4.5's list_files().
func (f *FileStore) List(ctx context.Context) ([]string, error) {
	var names []string
	err := filepath.Walk(f.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(f.root, path)
		if relErr != nil {
			return relErr
		}
		names = append(names, rel)
		return nil
	})
	if err != nil {
		return nil, core.NewCoreError(core.LayerResources, core.KindResource, "filestore_list_failed",
			"failed to list files", true, err)
	}
	return names, nil
}
