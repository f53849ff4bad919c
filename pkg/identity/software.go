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
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/ecdh"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
)

// SoftwareProvider is a Provider and KeyAgreer backed by an in-memory
// secp256k1 key. It is used for locally controlled identities, tests and
// the CLI.
type SoftwareProvider struct {
	mu     sync.RWMutex
	key    *btcec.PrivateKey
	pub    PublicKey
	digest hash.Algorithm
}

// ProviderOption configures a SoftwareProvider.
type ProviderOption func(*SoftwareProvider)

// WithDigest selects the message digest used when signing.
func WithDigest(a hash.Algorithm) ProviderOption {
	return func(p *SoftwareProvider) {
		p.digest = a
	}
}

// NewSoftwareProvider generates a fresh key.
func NewSoftwareProvider(opts ...ProviderOption) (*SoftwareProvider, error) {
	priv, err := ecdh.GenerateKey()
	if err != nil {
		return nil, err
	}
	return newSoftwareProvider(priv, opts...), nil
}

// NewSoftwareProviderFromBytes loads a 32-byte private scalar. The caller
// keeps ownership of scalar and should wipe it.
func NewSoftwareProviderFromBytes(scalar []byte, opts ...ProviderOption) (*SoftwareProvider, error) {
	if len(scalar) != ecdh.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key must be %d bytes", ecdh.ErrInvalidPrivateKey, ecdh.PrivateKeySize)
	}
	var k btcec.ModNScalar
	defer k.Zero()
	if overflow := k.SetByteSlice(scalar); overflow {
		return nil, fmt.Errorf("%w: scalar not below the group order", ecdh.ErrInvalidPrivateKey)
	}
	if k.IsZero() {
		return nil, ecdh.ErrInvalidPrivateKey
	}
	return newSoftwareProvider(btcec.PrivKeyFromScalar(&k), opts...), nil
}

func newSoftwareProvider(priv *btcec.PrivateKey, opts ...ProviderOption) *SoftwareProvider {
	p := &SoftwareProvider{
		key:    priv,
		pub:    FromECPublicKey(priv.PubKey()),
		digest: hash.SHA256,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublicKey implements Provider.
func (p *SoftwareProvider) PublicKey() PublicKey {
	return p.pub
}

// Digest returns the message digest used when signing.
func (p *SoftwareProvider) Digest() hash.Algorithm {
	return p.digest
}

// SubIdentity returns the labeled sub-identity for this key.
func (p *SoftwareProvider) SubIdentity(label string) SubIdentity {
	return SubIdentity{Key: p.pub, Label: label}
}

// Sign implements Provider.
func (p *SoftwareProvider) Sign(msg []byte) (Signature, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.key == nil {
		return Signature{}, ErrProviderDestroyed
	}

	digest, err := p.digest.Message(msg)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrUnsupportedDigest, err)
	}

	sig := ecdsa.Sign(p.key, digest)
	return Signature{Bytes: sig.Serialize(), Hash: p.digest}, nil
}

// SharedSecret implements KeyAgreer.
func (p *SoftwareProvider) SharedSecret(peer PublicKey) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.key == nil {
		return nil, ErrProviderDestroyed
	}
	return ecdh.DeriveSharedSecretFromBytes(p.key, peer[:])
}

// ExportPrivateKey returns the 32-byte scalar for persistence. The caller
// must wipe the result.
func (p *SoftwareProvider) ExportPrivateKey() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.key == nil {
		return nil, ErrProviderDestroyed
	}
	return p.key.Serialize(), nil
}

// Destroy zeroes the private scalar. Later calls to Sign or SharedSecret
// fail with ErrProviderDestroyed.
func (p *SoftwareProvider) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.key != nil {
		p.key.Zero()
		p.key = nil
	}
}
