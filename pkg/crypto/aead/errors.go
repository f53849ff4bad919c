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

import "errors"

var (
	// ErrAuthenticationFailure is returned when a ciphertext, nonce, tag or
	// associated data fails authentication. No plaintext is ever returned
	// alongside this error.
	ErrAuthenticationFailure = errors.New("aead: authentication failure")

	// ErrUnsupportedSuite is returned for an unknown suite identifier or name.
	ErrUnsupportedSuite = errors.New("aead: unsupported suite")

	// ErrInvalidKeySize is returned when the key is not KeySize bytes.
	ErrInvalidKeySize = errors.New("aead: invalid key size")
)
