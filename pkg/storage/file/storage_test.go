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

package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-quorumshare/pkg/storage"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage/storagetest"
)

func TestBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		fs, err := New(t.TempDir())
		require.NoError(t, err)
		return fs
	})
}

func TestNew_EmptyRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestKeyValidation(t *testing.T) {
	fs, err := New(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "/etc/passwd", "../escape", "a/../../escape", "nul\x00byte", "x.tmp"} {
		t.Run(key, func(t *testing.T) {
			assert.ErrorIs(t, fs.Put(key, []byte("v"), nil), storage.ErrInvalidKey)
			_, err := fs.Get(key)
			assert.ErrorIs(t, err, storage.ErrInvalidKey)
		})
	}
}

func TestPermissions(t *testing.T) {
	root := t.TempDir()
	fs, err := New(root)
	require.NoError(t, err)

	require.NoError(t, fs.Put(storage.IdentityPath("alice"), []byte("secret"), storage.SecretOptions()))
	require.NoError(t, fs.Create("nonces/q/ab", []byte{1}, nil))

	info, err := os.Stat(filepath.Join(root, "identities", "alice.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(root, "nonces", "q", "ab"))
	require.NoError(t, err)
	assert.Zero(t, info.Mode().Perm()&0077)
}

func TestPut_LeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	fs, err := New(root)
	require.NoError(t, err)

	require.NoError(t, fs.Put("quorums/q/1.cbor", []byte("a"), nil))
	require.NoError(t, fs.Put("quorums/q/1.cbor", []byte("b"), nil))

	entries, err := os.ReadDir(filepath.Join(root, "quorums", "q"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1.cbor", entries[0].Name())
}

func TestPersistsAcrossInstances(t *testing.T) {
	root := t.TempDir()
	first, err := New(root)
	require.NoError(t, err)
	require.NoError(t, first.Create("nonces/q/ff", []byte{1}, nil))
	require.NoError(t, first.Close())

	second, err := New(root)
	require.NoError(t, err)
	assert.ErrorIs(t, second.Create("nonces/q/ff", []byte{1}, nil), storage.ErrAlreadyExists)
}
