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

package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-quorumshare/pkg/challenge"
)

// Failure describes an approval that did not pass its checks.
type Failure struct {
	Approval challenge.Approval
	Err      error

	// SignedByNonMember is true when the approval carries a valid
	// signature over the challenge from a key outside the quorum, such as
	// a member that has since been removed.
	SignedByNonMember bool
}

// Severity classifies the failure.
func (f Failure) Severity() Severity {
	if f.SignedByNonMember {
		return SeverityAdversarial
	}
	return Classify(f.Err)
}

// RejectionPolicy decides whether a failed approval ends the lifecycle in
// StateRejected. Failures it does not reject are refused individually and
// collection continues.
type RejectionPolicy func(Failure) bool

// DefaultRejectionPolicy rejects when a non-member produced a valid
// signature over the challenge, or when a rotation proof fails.
func DefaultRejectionPolicy(f Failure) bool {
	return f.SignedByNonMember || errors.Is(f.Err, challenge.ErrInvalidRotationProof)
}

// StrictRejectionPolicy rejects on every adversarial failure.
func StrictRejectionPolicy(f Failure) bool {
	return f.Severity() == SeverityAdversarial
}

// LenientRejectionPolicy never rejects; the lifecycle only ends by
// authorization, expiry or an explicit Reject.
func LenientRejectionPolicy(Failure) bool {
	return false
}

// PolicyByName returns the policy named "default", "strict" or "lenient".
func PolicyByName(name string) (RejectionPolicy, error) {
	switch strings.ToLower(name) {
	case "", "default":
		return DefaultRejectionPolicy, nil
	case "strict":
		return StrictRejectionPolicy, nil
	case "lenient":
		return LenientRejectionPolicy, nil
	}
	return nil, fmt.Errorf("lifecycle: unknown rejection policy %q", name)
}
