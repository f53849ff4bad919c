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

// Package aead provides the authenticated encryption suites used to protect
// secret shares in transit between sub-identities.
//
// Two suites are supported:
//
//   - AES-256-GCM: preferred when the CPU has AES instructions.
//   - ChaCha20-Poly1305: preferred on CPUs without AES acceleration and
//     resistant to cache-timing attacks in software.
//
// Both use 32-byte keys, 12-byte nonces and 16-byte tags, so an encrypted
// share has the same shape regardless of suite.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/sys/cpu"
)

const (
	// KeySize is the key length for every suite.
	KeySize = 32

	// NonceSize is the nonce length for every suite.
	NonceSize = 12

	// TagSize is the authentication tag length for every suite.
	TagSize = 16
)

// Suite identifies an AEAD construction. The numeric values are part of the
// encrypted share wire format.
type Suite uint8

const (
	// AES256GCM is AES-256 in Galois/Counter Mode.
	AES256GCM Suite = 1

	// ChaCha20Poly1305 is the RFC 8439 ChaCha20-Poly1305 AEAD.
	ChaCha20Poly1305 Suite = 2
)

// String returns the configuration name of the suite.
func (s Suite) String() string {
	switch s {
	case AES256GCM:
		return "aes-256-gcm"
	case ChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// IsValid reports whether the suite is supported.
func (s Suite) IsValid() bool {
	return s == AES256GCM || s == ChaCha20Poly1305
}

// ParseSuite parses a configuration name. "auto" and "" select the optimal
// suite for this CPU.
func ParseSuite(name string) (Suite, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return SelectOptimal(), nil
	case "aes-256-gcm", "aes256-gcm", "a256gcm":
		return AES256GCM, nil
	case "chacha20-poly1305", "chacha20poly1305":
		return ChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedSuite, name)
	}
}

// HasAESNI returns true if the CPU has hardware AES support.
//
// Supported architectures:
//   - amd64: Checks X86.HasAES
//   - arm64: Checks ARM64.HasAES
//   - Other architectures return false
func HasAESNI() bool {
	switch runtime.GOARCH {
	case "amd64":
		return cpu.X86.HasAES
	case "arm64":
		return cpu.ARM64.HasAES
	default:
		return false
	}
}

// SelectOptimal returns AES-256-GCM when the CPU accelerates AES and
// ChaCha20-Poly1305 otherwise.
func SelectOptimal() Suite {
	if HasAESNI() {
		return AES256GCM
	}
	return ChaCha20Poly1305
}

// newCipher builds the cipher.AEAD for a suite and key.
func newCipher(s Suite, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrInvalidKeySize, len(key), KeySize)
	}
	switch s {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aead: failed to create cipher: %w", err)
		}
		return cipher.NewGCM(block)
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSuite, s)
	}
}
