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

// Package ecdh provides Elliptic Curve Diffie-Hellman (ECDH) key agreement
// over secp256k1 and HKDF-based key derivation from the resulting shared
// secrets.
//
// Example usage:
//
//	alice, _ := ecdh.GenerateKey()
//	bob, _ := ecdh.GenerateKey()
//
//	aliceSecret, _ := ecdh.DeriveSharedSecret(alice, bob.PubKey())
//	bobSecret, _ := ecdh.DeriveSharedSecret(bob, alice.PubKey())
//	// aliceSecret == bobSecret
//
//	encKey, _ := ecdh.DeriveKey(aliceSecret, nil, []byte("encryption"), 32)
package ecdh

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/hkdf"
)

const (
	// SharedSecretSize is the length of the x-coordinate returned by DeriveSharedSecret.
	SharedSecretSize = 32

	// PrivateKeySize is the length of a serialized secp256k1 scalar.
	PrivateKeySize = 32

	// CompressedPublicKeySize is the length of a SEC1 compressed point.
	CompressedPublicKeySize = btcec.PubKeyBytesLenCompressed
)

var (
	// ErrInvalidPoint indicates the peer key is not a valid curve point or
	// is the identity element.
	ErrInvalidPoint = errors.New("ecdh: invalid curve point")

	// ErrInvalidPrivateKey indicates a nil or zero private scalar.
	ErrInvalidPrivateKey = errors.New("ecdh: invalid private key")
)

// GenerateKey returns a fresh secp256k1 private key from crypto/rand.
func GenerateKey() (*btcec.PrivateKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("ecdh: failed to generate key: %w", err)
	}
	return priv, nil
}

// ParsePublicKey decodes a SEC1 compressed or uncompressed secp256k1 point.
// Malformed encodings, points off the curve and the identity element are
// rejected with ErrInvalidPoint.
func ParsePublicKey(b []byte) (*btcec.PublicKey, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty encoding", ErrInvalidPoint)
	}
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	return pub, nil
}

// DeriveSharedSecret performs ECDH between a private key and a public key and
// returns the 32-byte x-coordinate of the shared point. The caller owns the
// returned slice and must wipe it after use.
func DeriveSharedSecret(privateKey *btcec.PrivateKey, publicKey *btcec.PublicKey) ([]byte, error) {
	if privateKey == nil || privateKey.Key.IsZero() {
		return nil, ErrInvalidPrivateKey
	}
	if publicKey == nil {
		return nil, fmt.Errorf("%w: nil public key", ErrInvalidPoint)
	}
	if !publicKey.IsOnCurve() {
		return nil, fmt.Errorf("%w: point not on curve", ErrInvalidPoint)
	}
	return btcec.GenerateSharedSecret(privateKey, publicKey), nil
}

// DeriveSharedSecretFromBytes parses the peer's SEC1 public key and performs ECDH.
func DeriveSharedSecretFromBytes(privateKey *btcec.PrivateKey, peer []byte) ([]byte, error) {
	pub, err := ParsePublicKey(peer)
	if err != nil {
		return nil, err
	}
	return DeriveSharedSecret(privateKey, pub)
}

// DeriveKey derives a key of the specified length from a shared secret using
// HKDF-SHA256 extract-then-expand.
//
// Parameters:
//   - sharedSecret: The raw shared secret from ECDH (input keying material)
//   - salt: Optional salt value (can be nil)
//   - info: Domain separation label and context
//   - keyLength: Desired output key length in bytes
//
// Identical inputs always produce identical output; different info values
// produce independent keys from the same shared secret.
func DeriveKey(sharedSecret, salt, info []byte, keyLength int) ([]byte, error) {
	if len(sharedSecret) == 0 {
		return nil, fmt.Errorf("ecdh: shared secret cannot be empty")
	}
	if keyLength <= 0 {
		return nil, fmt.Errorf("ecdh: key length must be positive, got %d", keyLength)
	}

	reader := hkdf.New(sha256.New, sharedSecret, salt, info)

	derived := make([]byte, keyLength)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("ecdh: HKDF derivation failed: %w", err)
	}

	return derived, nil
}
