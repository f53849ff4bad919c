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

package quorum

import "errors"

var (
	// ErrInvalidThreshold is returned when threshold is 0 or exceeds the member count.
	ErrInvalidThreshold = errors.New("quorum: invalid threshold")

	// ErrDuplicateMember is returned when two members share a verification key.
	ErrDuplicateMember = errors.New("quorum: duplicate member")

	// ErrInvalidMember is returned for a member whose key is not a curve point.
	ErrInvalidMember = errors.New("quorum: invalid member")

	// ErrUnknownMember is returned when a change names a key outside the quorum.
	ErrUnknownMember = errors.New("quorum: unknown member")

	// ErrInvalidID is returned for an empty or unsafe quorum identifier.
	ErrInvalidID = errors.New("quorum: invalid id")

	// ErrNotMembershipChange is returned when applying a non-membership command.
	ErrNotMembershipChange = errors.New("quorum: command is not a membership change")

	// ErrQuorumMismatch is returned when a command targets a different quorum.
	ErrQuorumMismatch = errors.New("quorum: command targets another quorum")

	// ErrNotFound is returned by the repository for unknown quorums.
	ErrNotFound = errors.New("quorum: not found")

	// ErrStaleEpoch is returned when saving a snapshot older than the latest.
	ErrStaleEpoch = errors.New("quorum: stale epoch")
)
