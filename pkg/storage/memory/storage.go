// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-quorumshare.
//
// go-quorumshare is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package memory provides an in-memory storage.Backend. Values are copied
// on the way in and out so callers can wipe their buffers freely.
package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/secret"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage"
)

// Storage is an in-memory implementation of storage.Backend.
type Storage struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// New creates a new in-memory storage backend.
func New() *Storage {
	return &Storage{
		data: make(map[string][]byte),
	}
}

// Get retrieves a copy of the value for the given key.
func (s *Storage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	value, exists := s.data[key]
	if !exists {
		return nil, storage.ErrNotFound
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Put stores a copy of value, wiping any value it replaces.
func (s *Storage) Put(key string, value []byte, _ *storage.Options) error {
	if key == "" {
		return storage.ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	if old, ok := s.data[key]; ok {
		secret.Wipe(old)
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Create stores a copy of value if key is absent.
func (s *Storage) Create(key string, value []byte, _ *storage.Options) error {
	if key == "" {
		return storage.ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	if _, exists := s.data[key]; exists {
		return storage.ErrAlreadyExists
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes and wipes the value for key.
func (s *Storage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	value, exists := s.data[key]
	if !exists {
		return storage.ErrNotFound
	}

	secret.Wipe(value)
	delete(s.data, key)
	return nil
}

// List returns all keys with the given prefix in sorted order.
func (s *Storage) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	keys := make([]string, 0)
	for key := range s.data {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
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

	_, exists := s.data[key]
	return exists, nil
}

// Close wipes all values and marks the storage closed. Later calls return
// storage.ErrClosed. Close is idempotent.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.data {
		secret.Wipe(v)
	}
	s.closed = true
	s.data = nil
	return nil
}
