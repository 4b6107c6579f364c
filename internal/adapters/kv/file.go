// Package kv provides Storage implementations over the local file system
// and in memory.
package kv

import (
	"context"
	"encoding/base32"
	"os"
	"path/filepath"
	"strings"

	"github.com/InvestigateHealth/connectsync/internal/ports"
)

const fileSuffix = ".kv"

var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// FileStorage implements ports.Storage with one file per key under a
// directory. Writes go to a temp file followed by an atomic rename, so a
// crash leaves either the old value or the new one, never a torn write.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a FileStorage rooted at dir. The directory is
// created on first write.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

// path encodes the key so namespace separators like "cache:posts:p1" stay
// filesystem-safe on every platform.
func (s *FileStorage) path(key string) string {
	return filepath.Join(s.dir, keyEncoding.EncodeToString([]byte(key))+fileSuffix)
}

// Get reads the value for key. Missing keys return ports.ErrKeyNotFound.
func (s *FileStorage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ports.ErrKeyNotFound
		}
		return nil, err
	}
	return data, nil
}

// Set persists the value atomically (temp file, then rename).
func (s *FileStorage) Set(ctx context.Context, key string, value []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Remove deletes the key. Removing a missing key is not an error.
func (s *FileStorage) Remove(ctx context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Keys returns every stored key.
func (s *FileStorage) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		raw, err := keyEncoding.DecodeString(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		keys = append(keys, string(raw))
	}
	return keys, nil
}

// MultiRemove removes all listed keys, ignoring missing ones.
func (s *FileStorage) MultiRemove(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := s.Remove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
