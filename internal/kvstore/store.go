// Package kvstore persists small key-value state across sessions.
package kvstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Store is a durable string key-value store.
//
// Set writes every value in one atomic batch: either all keys are updated or
// none are.
type Store interface {
	Get(key string) (string, bool, error)
	Set(values map[string]string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// ErrUnknownBackend is returned by Open for unsupported backend names.
var ErrUnknownBackend = errors.New("unknown kvstore backend")

// Open creates the named backend rooted at dataDir.
func Open(backend, dataDir string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendSQLite, "":
		return NewSQLiteStore(filepath.Join(dataDir, "state.db"))
	case BackendFile:
		return NewFileStore(filepath.Join(dataDir, "state.json"))
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// GetInt reads an integer value, returning fallback when the key is missing.
func GetInt(s Store, key string, fallback int) (int, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return fallback, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

// GetBool reads a boolean value, returning fallback when the key is missing.
func GetBool(s Store, key string, fallback bool) (bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return fallback, err
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

// GetString reads a string value, returning fallback when the key is missing.
func GetString(s Store, key string, fallback string) (string, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return fallback, err
	}
	return raw, nil
}

// Int formats an integer for Set.
func Int(n int) string { return strconv.Itoa(n) }

// Bool formats a boolean for Set.
func Bool(b bool) string { return strconv.FormatBool(b) }
