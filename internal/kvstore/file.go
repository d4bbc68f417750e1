package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

const (
	statePrivateDirPerm  = 0o700
	statePrivateFilePerm = 0o600
	maxStateFileSize     = 1 << 20 // 1 MiB
)

var errUnsafeStatePath = errors.New("unsafe state file path")

// FileStore keeps every value in one JSON document that is rewritten
// atomically (temp file + rename) on each Set.
type FileStore struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// NewFileStore loads path if it exists.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path is required")
	}
	values, err := readStateFile(path)
	if err != nil {
		return nil, fmt.Errorf("load state file: %w", err)
	}
	return &FileStore{path: path, values: values}, nil
}

func (f *FileStore) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *FileStore) Set(values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]string, len(f.values)+len(values))
	for k, v := range f.values {
		next[k] = v
	}
	for k, v := range values {
		next[k] = v
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := writeOwnerOnlyFileAtomic(f.path, data); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	f.values = next
	return nil
}

func (f *FileStore) Close() error { return nil }

func isMissingPathError(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

func validateRegularFile(path string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: refusing symlink path %q", errUnsafeStatePath, path)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: non-regular path %q", errUnsafeStatePath, path)
	}
	return nil
}

func readStateFile(path string) (map[string]string, error) {
	values := make(map[string]string)

	info, err := os.Lstat(path)
	if err != nil {
		if isMissingPathError(err) {
			return values, nil
		}
		return nil, err
	}
	if err := validateRegularFile(path, info); err != nil {
		return nil, err
	}
	if info.Size() > maxStateFileSize {
		return nil, fmt.Errorf("%w: file %q exceeds size limit (%d bytes)", errUnsafeStatePath, path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return values, nil
}

func writeOwnerOnlyFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, statePrivateDirPerm); err != nil {
		return err
	}

	if info, err := os.Lstat(path); err == nil {
		if err := validateRegularFile(path, info); err != nil {
			return err
		}
	} else if !isMissingPathError(err) {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(statePrivateFilePerm); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
