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

// Package identity models sub-identities: the devices or applications that
// act on behalf of one real-world identity. A sub-identity is a secp256k1
// verification key plus an opaque label; the ability to sign (and
// optionally to perform key agreement) is supplied by an external Provider
// so private signing material never passes through this module.
package identity

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/ecdh"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
)

// PublicKeySize is the length of a SEC1 compressed secp256k1 point.
const PublicKeySize = ecdh.CompressedPublicKeySize

// PublicKey is a SEC1 compressed secp256k1 verification key. It is
// comparable and usable as a map key. The zero value is invalid.
type PublicKey [PublicKeySize]byte

// ParsePublicKey validates a SEC1 compressed or uncompressed encoding and
// returns its canonical compressed form.
func ParsePublicKey(b []byte) (PublicKey, error) {
	var pk PublicKey
	pub, err := ecdh.ParsePublicKey(b)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidVerifyingKey, err)
	}
	copy(pk[:], pub.SerializeCompressed())
	return pk, nil
}

// ParsePublicKeyHex parses a hex encoded SEC1 key.
func ParsePublicKeyHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidVerifyingKey, err)
	}
	return ParsePublicKey(b)
}

// FromECPublicKey converts a btcec public key.
func FromECPublicKey(pub *btcec.PublicKey) PublicKey {
	var pk PublicKey
	copy(pk[:], pub.SerializeCompressed())
	return pk
}

// ECPublicKey decodes the key as a curve point.
func (k PublicKey) ECPublicKey() (*btcec.PublicKey, error) {
	pub, err := ecdh.ParsePublicKey(k[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifyingKey, err)
	}
	return pub, nil
}

// Bytes returns a copy of the compressed encoding.
func (k PublicKey) Bytes() []byte {
	return bytes.Clone(k[:])
}

// Hex returns the hex encoded compressed key.
func (k PublicKey) Hex() string {
	return hex.EncodeToString(k[:])
}

// String implements fmt.Stringer.
func (k PublicKey) String() string {
	return k.Hex()
}

// Short returns an abbreviated fingerprint for logs.
func (k PublicKey) Short() string {
	return hex.EncodeToString(k[:5])
}

// IsZero reports whether k is the zero value.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// Equal reports whether two keys are identical.
func (k PublicKey) Equal(other PublicKey) bool {
	return k == other
}

// Compare orders keys by their compressed byte encoding.
func (k PublicKey) Compare(other PublicKey) int {
	return bytes.Compare(k[:], other[:])
}

// Validate checks that the key decodes to a curve point.
func (k PublicKey) Validate() error {
	_, err := k.ECPublicKey()
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PublicKey) UnmarshalText(text []byte) error {
	pk, err := ParsePublicKeyHex(string(text))
	if err != nil {
		return err
	}
	*k = pk
	return nil
}

// Signature is a DER encoded ECDSA/secp256k1 signature together with the
// digest applied to the message before signing.
type Signature struct {
	Bytes []byte         `cbor:"1,keyasint" json:"sig"`
	Hash  hash.Algorithm `cbor:"2,keyasint" json:"hash"`
}

// SubIdentity is one device or application authorized to act for a real
// identity. Immutable once created.
type SubIdentity struct {
	Key   PublicKey `cbor:"1,keyasint" json:"key"`
	Label string    `cbor:"2,keyasint" json:"label"`
}

// NewSubIdentity validates key and returns a SubIdentity.
func NewSubIdentity(key PublicKey, label string) (SubIdentity, error) {
	if err := key.Validate(); err != nil {
		return SubIdentity{}, err
	}
	return SubIdentity{Key: key, Label: label}, nil
}

// String implements fmt.Stringer.
func (s SubIdentity) String() string {
	if s.Label == "" {
		return s.Key.Short()
	}
	return fmt.Sprintf("%s(%s)", s.Label, s.Key.Short())
}

// Provider is the external capability that produces signatures for a
// sub-identity. Implementations may be hardware keys, wallets or DID agents;
// only the resulting signature is checked.
type Provider interface {
	// PublicKey returns the verification key for the identity.
	PublicKey() PublicKey

	// Sign computes a signature over an arbitrary message.
	Sign(msg []byte) (Signature, error)
}

// KeyAgreer is the optional capability to perform ECDH with the identity's
// private key. The returned shared secret is owned by the caller, who must
// wipe it.
type KeyAgreer interface {
	PublicKey() PublicKey
	SharedSecret(peer PublicKey) ([]byte, error)
}

// VerifySignature checks sig over msg under key using the digest declared
// by the signature.
func VerifySignature(key PublicKey, msg []byte, sig Signature) error {
	pub, err := key.ECPublicKey()
	if err != nil {
		return err
	}

	digest, err := sig.Hash.Message(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedDigest, err)
	}

	parsed, err := ecdsa.ParseDERSignature(sig.Bytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if !parsed.Verify(digest, pub) {
		return ErrInvalidSignature
	}
	return nil
}

// Verify reports whether sig is a valid signature over msg under key.
func Verify(key PublicKey, msg []byte, sig Signature) bool {
	return VerifySignature(key, msg, sig) == nil
}
