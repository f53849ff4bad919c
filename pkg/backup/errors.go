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

package backup

import (
	"errors"

	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/aead"
)

var (
	// ErrAuthenticationFailure is returned when a backup cannot be opened
	// because the ciphertext, header, context or keys do not match. No
	// plaintext is ever returned alongside it.
	ErrAuthenticationFailure = aead.ErrAuthenticationFailure

	// ErrInvalidContext is returned for an incomplete or inconsistent context.
	ErrInvalidContext = errors.New("backup: invalid context")

	// ErrEmptyShare is returned when backing up an empty share.
	ErrEmptyShare = errors.New("backup: empty share")

	// ErrUnsupportedVersion is returned for an unknown envelope version.
	ErrUnsupportedVersion = errors.New("backup: unsupported version")

	// ErrKeyAgreement is returned when an identity cannot derive a shared secret.
	ErrKeyAgreement = errors.New("backup: key agreement failed")
)
