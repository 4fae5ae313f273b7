// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/morganforge/ragchat/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore persists each key as a JSON file under a base directory.
// Writes are atomic (temp file + fsync + rename), so a concurrent
// reader sees either the previous value or the complete new one.
type FileStore struct {
	// BaseDir is the directory holding one file per key.
	// Default: ~/.ragchat/state/
	BaseDir string
}

// NewFileStore creates a file store rooted at the default state
// directory under the user's home.
func NewFileStore() (*FileStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewFileStoreWithDir(filepath.Join(homeDir, ".ragchat", "state"))
}

// NewFileStoreWithDir creates a file store rooted at baseDir.
func NewFileStoreWithDir(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, err
	}
	return &FileStore{BaseDir: baseDir}, nil
}

// Get returns the stored value for key. Missing files and read errors
// both report ok=false; the caller treats either as "no data".
func (s *FileStore) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(s.filePath(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set writes the value for key atomically.
func (s *FileStore) Set(key string, value []byte) error {
	return util.AtomicWriteFileWithDir(s.filePath(key), value, 0o600, 0o700)
}

// Remove deletes the key's file. An absent file is not an error.
func (s *FileStore) Remove(key string) error {
	err := os.Remove(s.filePath(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error {
	return nil
}

// filePath maps a key to its backing file.
func (s *FileStore) filePath(key string) string {
	return filepath.Join(s.BaseDir, sanitizeKey(key)+".json")
}

// keyFromFile is the inverse of filePath for watcher events.
func keyFromFile(name string) (string, bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, ".json") || strings.HasPrefix(base, ".tmp-") {
		return "", false
	}
	return strings.TrimSuffix(base, ".json"), true
}

// sanitizeKey keeps keys safe as file names. Keys only contain letters,
// digits, dots and hyphens today; anything else is mapped to '_'.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}
