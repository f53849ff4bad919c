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

// Package storagetest holds the behavioral checks every storage.Backend
// implementation must pass.
package storagetest

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-quorumshare/pkg/storage"
)

// Run exercises newBackend against the storage.Backend contract. Each
// subtest gets a fresh backend.
func Run(t *testing.T, newBackend func(t *testing.T) storage.Backend) {
	t.Run("PutGet", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Put("quorums/q1/00000000000000000001.cbor", []byte("snapshot"), nil))

		got, err := b.Get("quorums/q1/00000000000000000001.cbor")
		require.NoError(t, err)
		assert.Equal(t, []byte("snapshot"), got)

		require.NoError(t, b.Put("quorums/q1/00000000000000000001.cbor", []byte("replaced"), nil))
		got, err = b.Get("quorums/q1/00000000000000000001.cbor")
		require.NoError(t, err)
		assert.Equal(t, []byte("replaced"), got)
	})

	t.Run("GetMissing", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Get("missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("CopiesValues", func(t *testing.T) {
		b := newBackend(t)
		value := []byte("value")
		require.NoError(t, b.Put("k", value, nil))
		value[0] = 'X'

		got, err := b.Get("k")
		require.NoError(t, err)
		assert.Equal(t, []byte("value"), got)

		got[0] = 'Y'
		again, err := b.Get("k")
		require.NoError(t, err)
		assert.Equal(t, []byte("value"), again)
	})

	t.Run("Create", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Create("nonces/q1/aa", []byte{1}, nil))
		assert.ErrorIs(t, b.Create("nonces/q1/aa", []byte{2}, nil), storage.ErrAlreadyExists)

		got, err := b.Get("nonces/q1/aa")
		require.NoError(t, err)
		assert.Equal(t, []byte{1}, got)
	})

	t.Run("CreateConcurrent", func(t *testing.T) {
		b := newBackend(t)
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := b.Create("nonces/q1/race", []byte{byte(i)}, nil); err == nil {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("Delete", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Put("k", []byte("v"), nil))
		require.NoError(t, b.Delete("k"))

		ok, err := b.Exists("k")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.ErrorIs(t, b.Delete("k"), storage.ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		b := newBackend(t)
		for i := 3; i > 0; i-- {
			require.NoError(t, b.Put(fmt.Sprintf("nonces/q1/%02d", i), []byte{byte(i)}, nil))
		}
		require.NoError(t, b.Put("identities/alice.key", []byte("k"), storage.SecretOptions()))

		keys, err := b.List(storage.NoncePrefix("q1"))
		require.NoError(t, err)
		assert.Equal(t, []string{"nonces/q1/01", "nonces/q1/02", "nonces/q1/03"}, keys)

		all, err := b.List("")
		require.NoError(t, err)
		assert.Len(t, all, 4)

		names, err := storage.ListIdentities(b)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, names)
	})

	t.Run("Closed", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Close())
		require.NoError(t, b.Close())

		_, err := b.Get("k")
		assert.ErrorIs(t, err, storage.ErrClosed)
		assert.ErrorIs(t, b.Put("k", nil, nil), storage.ErrClosed)
		assert.ErrorIs(t, b.Create("k", nil, nil), storage.ErrClosed)
		_, err = b.List("")
		assert.ErrorIs(t, err, storage.ErrClosed)
	})
}
