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

// Package hash provides the fixed-output digests used for command, quorum and
// challenge binding, plus the message digests supported for identity
// signatures.
package hash

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	gohash "hash"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Size is the length of a Digest in bytes.
const Size = sha256.Size

// ErrUnsupportedAlgorithm is returned for an unknown message digest.
var ErrUnsupportedAlgorithm = errors.New("hash: unsupported algorithm")

// Digest is a SHA-256 output.
type Digest [Size]byte

// Bytes returns a copy of the digest as a slice.
func (d Digest) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, d[:])
	return out
}

// Hex returns the lowercase hex encoding of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return d.Hex()
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Equal compares two digests in constant time.
func (d Digest) Equal(other Digest) bool {
	return subtle.ConstantTimeCompare(d[:], other[:]) == 1
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("hash: digest: %w", err)
	}
	parsed, err := DigestFromBytes(b)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DigestFromBytes converts a 32-byte slice to a Digest.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != Size {
		return d, fmt.Errorf("hash: digest must be %d bytes, got %d", Size, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Sum returns SHA-256(data).
func Sum(data []byte) Digest {
	return sha256.Sum256(data)
}

// Tagged returns SHA-256 over a domain separation label followed by each
// part, every element prefixed with its big-endian uint32 length. Distinct
// part boundaries therefore never collide.
func Tagged(label string, parts ...[]byte) Digest {
	h := sha256.New()
	writeFramed(h, []byte(label))
	for _, p := range parts {
		writeFramed(h, p)
	}
	var d Digest
	h.Sum(d[:0])
	return d
}

func writeFramed(h gohash.Hash, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	h.Write(n[:])
	h.Write(b)
}

// Algorithm identifies a message digest used before ECDSA signing.
type Algorithm uint8

const (
	// SHA256 is the default message digest.
	SHA256 Algorithm = iota
	// Keccak256 is the legacy Keccak digest used by Ethereum wallets.
	Keccak256
)

// String returns the algorithm name.
func (a Algorithm) String() string {
	switch a {
	case SHA256:
		return "sha-256"
	case Keccak256:
		return "keccak-256"
	default:
		return "unknown"
	}
}

// ParseAlgorithm parses an algorithm name such as "sha-256" or "keccak256".
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "") {
	case "sha256", "":
		return SHA256, nil
	case "keccak256":
		return Keccak256, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
}

// New returns a hash.Hash for the algorithm.
func (a Algorithm) New() (gohash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New(), nil
	case Keccak256:
		return sha3.NewLegacyKeccak256(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, a)
	}
}

// Message hashes msg with the algorithm.
func (a Algorithm) Message(msg []byte) ([]byte, error) {
	h, err := a.New()
	if err != nil {
		return nil, err
	}
	h.Write(msg)
	return h.Sum(nil), nil
}
