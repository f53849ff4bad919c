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

package challenge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage/memory"
)

// NonceStore records consumed challenge nonces per quorum.
type NonceStore interface {
	// Consumed reports whether nonce was already consumed within scope.
	Consumed(scope string, nonce []byte) (bool, error)

	// Consume atomically records nonce as used within scope. It returns
	// ErrReplayOrExpired if the nonce was already consumed, so at most one
	// of any set of concurrent callers succeeds.
	Consume(scope string, nonce []byte, expiry time.Time) error
}

// StorageNonceStore is a NonceStore over a storage.Backend. Nonces are
// stored under their SHA-256 so keys are fixed length; the value is the
// challenge expiry, used by Prune.
type StorageNonceStore struct {
	mu      sync.Mutex
	backend storage.Backend
}

// NewNonceStore returns a NonceStore persisting to backend.
func NewNonceStore(backend storage.Backend) *StorageNonceStore {
	return &StorageNonceStore{backend: backend}
}

// NewMemoryNonceStore returns a process-local NonceStore.
func NewMemoryNonceStore() *StorageNonceStore {
	return NewNonceStore(memory.New())
}

func nonceKey(scope string, nonce []byte) (string, error) {
	if err := storage.ValidateName(scope); err != nil {
		return "", fmt.Errorf("%w: scope: %v", ErrInvalidChallenge, err)
	}
	return storage.NoncePath(scope, hash.Sum(nonce).Hex()), nil
}

// Consumed implements NonceStore.
func (s *StorageNonceStore) Consumed(scope string, nonce []byte) (bool, error) {
	key, err := nonceKey(scope, nonce)
	if err != nil {
		return false, err
	}
	ok, err := s.backend.Exists(key)
	if err != nil {
		return false, fmt.Errorf("challenge: check nonce: %w", err)
	}
	return ok, nil
}

// Consume implements NonceStore.
func (s *StorageNonceStore) Consume(scope string, nonce []byte, expiry time.Time) error {
	key, err := nonceKey(scope, nonce)
	if err != nil {
		return err
	}

	var value [8]byte
	binary.BigEndian.PutUint64(value[:], uint64(expiry.UnixMilli()))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Create(key, value[:], nil); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return ErrReplayOrExpired
		}
		return fmt.Errorf("challenge: record nonce: %w", err)
	}
	return nil
}

// Prune deletes records whose challenge expired before now. Expired
// challenges are refused on expiry alone, so their nonces need not be kept.
// It returns the number of records removed.
func (s *StorageNonceStore) Prune(scope string, now time.Time) (int, error) {
	if err := storage.ValidateName(scope); err != nil {
		return 0, fmt.Errorf("%w: scope: %v", ErrInvalidChallenge, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.backend.List(storage.NoncePrefix(scope))
	if err != nil {
		return 0, fmt.Errorf("challenge: list nonces: %w", err)
	}

	removed := 0
	cutoff := now.UnixMilli()
	for _, key := range keys {
		if !strings.HasPrefix(key, storage.NoncePrefix(scope)) {
			continue
		}
		value, err := s.backend.Get(key)
		if err != nil || len(value) != 8 {
			continue
		}
		if int64(binary.BigEndian.Uint64(value)) >= cutoff {
			continue
		}
		if err := s.backend.Delete(key); err == nil {
			removed++
		}
	}
	return removed, nil
}
