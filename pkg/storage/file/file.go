// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-mfa.
//
// go-mfa is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package file provides a file-based implementation of the storage.Backend
// interface. Keys are mapped to a directory hierarchy under a root
// directory, with each path segment percent-escaped so arbitrary key
// material (account identifiers, token hashes) cannot escape the root.
package file

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-mfa/pkg/storage"
)

const (
	// Directory permissions (owner rwx only)
	dirPerms = 0700

	// File permissions (owner rw only); every value in this store is
	// sensitive (secrets, code hashes, token hashes).
	filePerms = 0600
)

// Storage is a file-based implementation of storage.Backend.
type Storage struct {
	mu      sync.RWMutex
	rootDir string
	closed  bool
}

// New creates a new file storage backend rooted at rootDir.
// The root directory is created with 0700 permissions if it doesn't exist.
func New(rootDir string) (storage.Backend, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("file storage: root directory cannot be empty")
	}

	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("file storage: resolve root directory: %w", err)
	}

	if err := os.MkdirAll(abs, dirPerms); err != nil {
		return nil, fmt.Errorf("file storage: create root directory: %w", err)
	}

	return &Storage{rootDir: abs}, nil
}

// keyToPath maps a storage key to a filesystem path. Each segment is
// percent-escaped so keys containing path metacharacters stay inside
// the root directory.
func (s *Storage) keyToPath(key string) string {
	segments := strings.Split(key, "/")
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		esc := url.PathEscape(seg)
		// PathEscape leaves dots alone; "." and ".." segments would
		// resolve outside the root.
		if esc == "." || esc == ".." {
			esc = strings.ReplaceAll(esc, ".", "%2E")
		}
		escaped[i] = esc
	}
	return filepath.Join(s.rootDir, filepath.Join(escaped...))
}

// pathToKey is the inverse of keyToPath.
func (s *Storage) pathToKey(path string) (string, error) {
	rel, err := filepath.Rel(s.rootDir, path)
	if err != nil {
		return "", err
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, seg := range segments {
		unescaped, err := url.PathUnescape(seg)
		if err != nil {
			return "", err
		}
		segments[i] = unescaped
	}
	return strings.Join(segments, "/"), nil
}

// Get retrieves the value for the given key.
func (s *Storage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	data, err := os.ReadFile(s.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("file storage: read %q: %w", key, err)
	}
	return data, nil
}

// Put stores the value for the given key, overwriting any existing value.
// The value is written to a temporary file and renamed into place so a
// crashed write never leaves a torn value behind.
func (s *Storage) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	path := s.keyToPath(key)
	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return fmt.Errorf("file storage: create directory for %q: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("file storage: create temp file for %q: %w", key, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("file storage: write %q: %w", key, err)
	}
	if err := tmp.Chmod(filePerms); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("file storage: chmod %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("file storage: close %q: %w", key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("file storage: rename %q: %w", key, err)
	}
	return nil
}

// Delete removes the key and its value from storage.
func (s *Storage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	path := s.keyToPath(key)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return storage.ErrNotFound
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("file storage: delete %q: %w", key, err)
	}
	return nil
}

// List returns all keys with the given prefix in sorted order.
func (s *Storage) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	var keys []string
	err := filepath.Walk(s.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".tmp-") {
			return nil
		}
		key, err := s.pathToKey(path)
		if err != nil {
			return err
		}
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("file storage: list %q: %w", prefix, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Exists checks if a key exists in storage.
func (s *Storage) Exists(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, storage.ErrClosed
	}

	_, err := os.Stat(s.keyToPath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("file storage: stat %q: %w", key, err)
	}
	return true, nil
}

// Close marks the storage as closed.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
