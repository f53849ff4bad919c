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

package quorum

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-quorumshare/pkg/storage"
)

// Repository persists immutable quorum snapshots, one per epoch.
type Repository struct {
	mu      sync.Mutex
	backend storage.Backend
}

// NewRepository returns a Repository over backend.
func NewRepository(backend storage.Backend) *Repository {
	return &Repository{backend: backend}
}

// Save stores q. Saving an identical snapshot twice is a no-op; saving an
// epoch that is not newer than the latest stored one returns ErrStaleEpoch.
func (r *Repository) Save(q *Quorum) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := q.MarshalBinary()
	if err != nil {
		return err
	}

	epochs, err := r.epochs(q.ID())
	if err != nil {
		return err
	}
	if n := len(epochs); n > 0 && epochs[n-1] >= q.Epoch() {
		existing, err := r.backend.Get(storage.QuorumPath(q.ID(), q.Epoch()))
		if err == nil && bytes.Equal(existing, data) {
			return nil
		}
		return fmt.Errorf("%w: %s has epoch %d", ErrStaleEpoch, q.ID(), epochs[n-1])
	}

	if err := r.backend.Create(storage.QuorumPath(q.ID(), q.Epoch()), data, nil); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("%w: %s epoch %d", ErrStaleEpoch, q.ID(), q.Epoch())
		}
		return fmt.Errorf("quorum: save %s: %w", q, err)
	}
	return nil
}

// Get loads one epoch of a quorum.
func (r *Repository) Get(id string, epoch uint64) (*Quorum, error) {
	data, err := r.backend.Get(storage.QuorumPath(id, epoch))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s epoch %d", ErrNotFound, id, epoch)
		}
		return nil, err
	}
	return Decode(data)
}

// Latest loads the newest epoch of a quorum.
func (r *Repository) Latest(id string) (*Quorum, error) {
	r.mu.Lock()
	epochs, err := r.epochs(id)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(epochs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.Get(id, epochs[len(epochs)-1])
}

// History returns the stored epochs of a quorum in ascending order.
func (r *Repository) History(id string) ([]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epochs(id)
}

// List returns the IDs of all stored quorums.
func (r *Repository) List() ([]string, error) {
	return storage.ListQuorums(r.backend)
}

func (r *Repository) epochs(id string) ([]uint64, error) {
	if err := storage.ValidateName(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}

	prefix := storage.QuorumPrefix(id)
	keys, err := r.backend.List(prefix)
	if err != nil {
		return nil, err
	}

	out := make([]uint64, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimSuffix(strings.TrimPrefix(k, prefix), ".cbor")
		epoch, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, epoch)
	}
	return out, nil
}
