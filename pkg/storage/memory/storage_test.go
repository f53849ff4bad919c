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

package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-quorumshare/pkg/storage"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage/storagetest"
)

func TestBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return New()
	})
}

func TestPut_EmptyKey(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Put("", []byte("v"), nil), storage.ErrInvalidKey)
	assert.ErrorIs(t, s.Create("", []byte("v"), nil), storage.ErrInvalidKey)
}

func TestPut_WipesReplacedValue(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("k", []byte("first"), nil))

	s.mu.RLock()
	old := s.data["k"]
	s.mu.RUnlock()

	require.NoError(t, s.Put("k", []byte("second"), nil))
	assert.Equal(t, make([]byte, len("first")), old)
}
