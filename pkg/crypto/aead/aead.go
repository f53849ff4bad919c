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

package aead

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/secret"
)

// Sealed is the output of Seal with the tag split from the ciphertext.
type Sealed struct {
	Ciphertext []byte
	Nonce      []byte
	Tag        []byte
}

// Seal encrypts plaintext under key with a fresh random nonce read from
// random (crypto/rand.Reader when nil). aad is authenticated but not
// encrypted.
func Seal(s Suite, key, plaintext, aad []byte, random io.Reader) (*Sealed, error) {
	if random == nil {
		random = rand.Reader
	}

	c, err := newCipher(s, key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(random, nonce); err != nil {
		return nil, fmt.Errorf("aead: failed to generate nonce: %w", err)
	}

	// Seal appends the tag to the ciphertext
	out := c.Seal(nil, nonce, plaintext, aad)
	ct := out[:len(out)-TagSize]
	tag := make([]byte, TagSize)
	copy(tag, out[len(out)-TagSize:])

	return &Sealed{
		Ciphertext: ct[:len(ct):len(ct)],
		Nonce:      nonce,
		Tag:        tag,
	}, nil
}

// Open authenticates and decrypts. Any tampering with the ciphertext, nonce,
// tag or aad yields ErrAuthenticationFailure and a nil plaintext.
func Open(s Suite, key []byte, sealed *Sealed, aad []byte) ([]byte, error) {
	if sealed == nil {
		return nil, ErrAuthenticationFailure
	}
	if len(sealed.Nonce) != NonceSize || len(sealed.Tag) != TagSize {
		return nil, ErrAuthenticationFailure
	}

	c, err := newCipher(s, key)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(sealed.Ciphertext)+TagSize)
	buf = append(buf, sealed.Ciphertext...)
	buf = append(buf, sealed.Tag...)

	plaintext, err := c.Open(nil, sealed.Nonce, buf, aad)
	if err != nil {
		secret.Wipe(plaintext)
		return nil, ErrAuthenticationFailure
	}
	return plaintext, nil
}
