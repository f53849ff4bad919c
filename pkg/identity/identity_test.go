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

package identity

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/ecdh"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
)

func newProvider(t *testing.T, opts ...ProviderOption) *SoftwareProvider {
	t.Helper()
	p, err := NewSoftwareProvider(opts...)
	require.NoError(t, err)
	t.Cleanup(p.Destroy)
	return p
}

func TestSignVerify(t *testing.T) {
	for _, digest := range []hash.Algorithm{hash.SHA256, hash.Keccak256} {
		t.Run(digest.String(), func(t *testing.T) {
			p := newProvider(t, WithDigest(digest))
			msg := []byte("approve share recovery")

			sig, err := p.Sign(msg)
			require.NoError(t, err)
			assert.Equal(t, digest, sig.Hash)

			assert.True(t, Verify(p.PublicKey(), msg, sig))
			assert.NoError(t, VerifySignature(p.PublicKey(), msg, sig))
		})
	}
}

func TestVerify_Rejects(t *testing.T) {
	p := newProvider(t)
	other := newProvider(t)
	msg := []byte("message")

	sig, err := p.Sign(msg)
	require.NoError(t, err)

	t.Run("different message", func(t *testing.T) {
		assert.ErrorIs(t, VerifySignature(p.PublicKey(), []byte("other"), sig), ErrInvalidSignature)
	})

	t.Run("different key", func(t *testing.T) {
		assert.False(t, Verify(other.PublicKey(), msg, sig))
	})

	t.Run("malformed der", func(t *testing.T) {
		bad := Signature{Bytes: []byte{0x30, 0x01, 0x02}, Hash: hash.SHA256}
		assert.ErrorIs(t, VerifySignature(p.PublicKey(), msg, bad), ErrInvalidSignature)
	})

	t.Run("wrong digest declared", func(t *testing.T) {
		swapped := Signature{Bytes: sig.Bytes, Hash: hash.Keccak256}
		assert.ErrorIs(t, VerifySignature(p.PublicKey(), msg, swapped), ErrInvalidSignature)
	})

	t.Run("unknown digest", func(t *testing.T) {
		unknown := Signature{Bytes: sig.Bytes, Hash: hash.Algorithm(99)}
		assert.ErrorIs(t, VerifySignature(p.PublicKey(), msg, unknown), ErrUnsupportedDigest)
	})

	t.Run("invalid key", func(t *testing.T) {
		var zero PublicKey
		assert.ErrorIs(t, VerifySignature(zero, msg, sig), ErrInvalidVerifyingKey)
	})
}

func TestParsePublicKey(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	compressed, err := ParsePublicKey(priv.PubKey().SerializeCompressed())
	require.NoError(t, err)
	uncompressed, err := ParsePublicKey(priv.PubKey().SerializeUncompressed())
	require.NoError(t, err)
	assert.Equal(t, compressed, uncompressed)

	fromHex, err := ParsePublicKeyHex(compressed.Hex())
	require.NoError(t, err)
	assert.Equal(t, compressed, fromHex)

	_, err = ParsePublicKey([]byte{0x02, 0x01})
	assert.ErrorIs(t, err, ErrInvalidVerifyingKey)

	_, err = ParsePublicKeyHex("zz")
	assert.ErrorIs(t, err, ErrInvalidVerifyingKey)
}

func TestPublicKey_Helpers(t *testing.T) {
	a := newProvider(t).PublicKey()
	b := newProvider(t).PublicKey()

	assert.False(t, a.IsZero())
	assert.True(t, PublicKey{}.IsZero())
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, -b.Compare(a), a.Compare(b))
	assert.Len(t, a.Bytes(), PublicKeySize)
	assert.Len(t, a.Short(), 10)
	assert.Equal(t, a.Hex(), a.String())

	raw, err := json.Marshal(a)
	require.NoError(t, err)
	var decoded PublicKey
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, a, decoded)
}

func TestNewSubIdentity(t *testing.T) {
	p := newProvider(t)

	sub, err := NewSubIdentity(p.PublicKey(), "laptop")
	require.NoError(t, err)
	assert.Equal(t, p.SubIdentity("laptop"), sub)
	assert.Contains(t, sub.String(), "laptop")

	_, err = NewSubIdentity(PublicKey{}, "bad")
	assert.ErrorIs(t, err, ErrInvalidVerifyingKey)
}

func TestSoftwareProvider_SharedSecret(t *testing.T) {
	alice := newProvider(t)
	bob := newProvider(t)

	ab, err := alice.SharedSecret(bob.PublicKey())
	require.NoError(t, err)
	ba, err := bob.SharedSecret(alice.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
	assert.Len(t, ab, 32)

	var _ KeyAgreer = alice
}

func TestSoftwareProvider_ExportImport(t *testing.T) {
	p := newProvider(t)

	scalar, err := p.ExportPrivateKey()
	require.NoError(t, err)

	restored, err := NewSoftwareProviderFromBytes(scalar)
	require.NoError(t, err)
	defer restored.Destroy()
	assert.Equal(t, p.PublicKey(), restored.PublicKey())

	_, err = NewSoftwareProviderFromBytes(make([]byte, 32))
	assert.Error(t, err)
	_, err = NewSoftwareProviderFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestSoftwareProviderFromBytes_RejectsOutOfRange(t *testing.T) {
	order := btcec.S256().Params().N

	tests := map[string][]byte{
		"group order":    order.FillBytes(make([]byte, 32)),
		"order plus one": new(big.Int).Add(order, big.NewInt(1)).FillBytes(make([]byte, 32)),
		"all ones":       bytes.Repeat([]byte{0xff}, 32),
	}
	for name, scalar := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewSoftwareProviderFromBytes(scalar)
			assert.ErrorIs(t, err, ecdh.ErrInvalidPrivateKey)
		})
	}

	below := new(big.Int).Sub(order, big.NewInt(1)).FillBytes(make([]byte, 32))
	p, err := NewSoftwareProviderFromBytes(below)
	require.NoError(t, err)
	defer p.Destroy()
	exported, err := p.ExportPrivateKey()
	require.NoError(t, err)
	assert.Equal(t, below, exported)
}

func TestSoftwareProvider_Destroy(t *testing.T) {
	p, err := NewSoftwareProvider()
	require.NoError(t, err)

	p.Destroy()
	p.Destroy()

	_, err = p.Sign([]byte("msg"))
	assert.ErrorIs(t, err, ErrProviderDestroyed)
	_, err = p.SharedSecret(p.PublicKey())
	assert.ErrorIs(t, err, ErrProviderDestroyed)
	_, err = p.ExportPrivateKey()
	assert.ErrorIs(t, err, ErrProviderDestroyed)
}
