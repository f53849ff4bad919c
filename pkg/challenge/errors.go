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

package challenge

import (
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
)

var (
	// ErrUnauthorizedSigner is returned when an approval's signer is not a
	// current quorum member.
	ErrUnauthorizedSigner = errors.New("challenge: unauthorized signer")

	// ErrDuplicateApproval is returned when a signer appears twice.
	ErrDuplicateApproval = errors.New("challenge: duplicate approval")

	// ErrInvalidSignature is returned when an approval does not verify
	// against the exact challenge.
	ErrInvalidSignature = identity.ErrInvalidSignature

	// ErrReplayOrExpired is returned when the challenge nonce was already
	// consumed or the challenge has expired.
	ErrReplayOrExpired = errors.New("challenge: replayed or expired")

	// ErrInsufficientQuorum is returned when fewer than threshold valid
	// approvals are presented.
	ErrInsufficientQuorum = errors.New("challenge: insufficient quorum")

	// ErrInvalidChallenge is returned for a malformed challenge.
	ErrInvalidChallenge = errors.New("challenge: invalid challenge")

	// ErrQuorumMismatch is returned when a challenge or command targets a
	// different quorum than the one supplied.
	ErrQuorumMismatch = errors.New("challenge: quorum mismatch")

	// ErrSigningFailed is returned when the identity provider cannot sign.
	ErrSigningFailed = errors.New("challenge: signing failed")

	// ErrCommandMismatch is returned when a signed request names a
	// different command than the one being verified.
	ErrCommandMismatch = errors.New("challenge: command mismatch")

	// ErrRequestExpired is returned when a signed request is older than
	// the accepted window.
	ErrRequestExpired = errors.New("challenge: request expired")

	// ErrInvalidTimestamp is returned when a signed request is dated too
	// far in the future.
	ErrInvalidTimestamp = errors.New("challenge: invalid timestamp")

	// ErrInvalidRotationProof is returned when the new key of an identity
	// rotation did not sign the rotation challenge.
	ErrInvalidRotationProof = errors.New("challenge: invalid rotation proof")
)

// ApprovalError reports which approval failed verification.
type ApprovalError struct {
	// Index is the position of the approval in the submitted list.
	Index int

	// Signer is the key the approval claims.
	Signer identity.PublicKey

	// SignatureValid is true when the signature verified but a later check
	// (replay or expiry) failed, distinguishing stale approvals from forged
	// ones.
	SignatureValid bool

	Err error
}

func (e *ApprovalError) Error() string {
	return fmt.Sprintf("approval %d from %s: %v", e.Index, e.Signer.Short(), e.Err)
}

func (e *ApprovalError) Unwrap() error {
	return e.Err
}

// InsufficientError reports the approval count shortfall.
type InsufficientError struct {
	Have int
	Need int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("%v: %d of %d approvals", ErrInsufficientQuorum, e.Have, e.Need)
}

func (e *InsufficientError) Unwrap() error {
	return ErrInsufficientQuorum
}
