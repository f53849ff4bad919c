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

package command

import "errors"

var (
	// ErrUnknownKind is returned for a kind outside the defined set.
	ErrUnknownKind = errors.New("command: unknown kind")

	// ErrInvalidPayload is returned when a payload fails its kind's validation.
	ErrInvalidPayload = errors.New("command: invalid payload")

	// ErrInvalidContext is returned when the target quorum is not identified.
	ErrInvalidContext = errors.New("command: invalid context")

	// ErrUnsupportedVersion is returned when decoding an unknown encoding version.
	ErrUnsupportedVersion = errors.New("command: unsupported encoding version")

	// ErrKindMismatch is returned when a typed accessor is used on another kind.
	ErrKindMismatch = errors.New("command: kind mismatch")
)
