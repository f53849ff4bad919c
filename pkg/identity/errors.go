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

import "errors"

var (
	// ErrInvalidSignature indicates a signature that does not verify for the
	// message under the given key, or a malformed signature encoding.
	ErrInvalidSignature = errors.New("identity: invalid signature")

	// ErrInvalidVerifyingKey indicates a key that is not a valid secp256k1 point.
	ErrInvalidVerifyingKey = errors.New("identity: invalid verifying key")

	// ErrUnsupportedDigest indicates a signature declaring an unknown message digest.
	ErrUnsupportedDigest = errors.New("identity: unsupported message digest")

	// ErrKeyAgreementUnsupported indicates a provider that cannot perform ECDH.
	ErrKeyAgreementUnsupported = errors.New("identity: provider does not support key agreement")

	// ErrProviderDestroyed indicates use of a provider after Destroy.
	ErrProviderDestroyed = errors.New("identity: provider destroyed")
)
