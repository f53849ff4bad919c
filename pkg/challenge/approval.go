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
	"fmt"
	"slices"

	"github.com/jeremyhahn/go-quorumshare/pkg/encoding"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
)

// Approval is one member's signature over a challenge.
type Approval struct {
	Signer    identity.PublicKey `cbor:"1,keyasint" json:"signer"`
	Signature identity.Signature `cbor:"2,keyasint" json:"signature"`
}

// Collect asks provider to sign the challenge. The provider performs the
// only blocking step; nothing is retained after it returns.
func Collect(c Challenge, provider identity.Provider) (Approval, error) {
	if err := c.Validate(); err != nil {
		return Approval{}, err
	}
	sig, err := provider.Sign(c.SigningMessage())
	if err != nil {
		return Approval{}, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return Approval{Signer: provider.PublicKey(), Signature: sig}, nil
}

// Verify checks the approval signature against the challenge.
func (a Approval) Verify(c Challenge) error {
	if err := identity.VerifySignature(a.Signer, c.SigningMessage(), a.Signature); err != nil {
		return wrapSignatureError(err)
	}
	return nil
}

// MarshalBinary encodes the approval as canonical CBOR.
func (a Approval) MarshalBinary() ([]byte, error) {
	type wire Approval
	return encoding.Marshal(wire(a))
}

// UnmarshalBinary decodes an approval.
func (a *Approval) UnmarshalBinary(data []byte) error {
	type wire Approval
	var w wire
	if err := encoding.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("challenge: decode approval: %w", err)
	}
	*a = Approval(w)
	return nil
}

// QuorumApproval is the verified, threshold-satisfying set of approvals for
// one challenge. It is produced only by VerifyAndTally.
type QuorumApproval struct {
	Challenge Challenge
	Approvals map[identity.PublicKey]Approval
}

// Signers returns the approving keys in canonical order.
func (q *QuorumApproval) Signers() []identity.PublicKey {
	out := make([]identity.PublicKey, 0, len(q.Approvals))
	for k := range q.Approvals {
		out = append(out, k)
	}
	slices.SortFunc(out, identity.PublicKey.Compare)
	return out
}

// Len returns the number of approvals.
func (q *QuorumApproval) Len() int {
	return len(q.Approvals)
}

// List returns the approvals ordered by signer key.
func (q *QuorumApproval) List() []Approval {
	out := make([]Approval, 0, len(q.Approvals))
	for _, k := range q.Signers() {
		out = append(out, q.Approvals[k])
	}
	return out
}

type wireQuorumApproval struct {
	Challenge Challenge  `cbor:"1,keyasint" json:"challenge"`
	Approvals []Approval `cbor:"2,keyasint" json:"approvals"`
}

// MarshalBinary encodes the bundle with approvals sorted by signer.
func (q *QuorumApproval) MarshalBinary() ([]byte, error) {
	return encoding.Marshal(wireQuorumApproval{Challenge: q.Challenge, Approvals: q.List()})
}

// UnmarshalBinary decodes a bundle. Decoding does not re-verify: a
// received QuorumApproval must be passed through VerifyAndTally again by
// any party that relies on it.
func (q *QuorumApproval) UnmarshalBinary(data []byte) error {
	var w wireQuorumApproval
	if err := encoding.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("challenge: decode quorum approval: %w", err)
	}
	approvals := make(map[identity.PublicKey]Approval, len(w.Approvals))
	for i, a := range w.Approvals {
		if _, dup := approvals[a.Signer]; dup {
			return &ApprovalError{Index: i, Signer: a.Signer, Err: ErrDuplicateApproval}
		}
		approvals[a.Signer] = a
	}
	q.Challenge = w.Challenge
	q.Approvals = approvals
	return nil
}

// MarshalBinary encodes the challenge as canonical CBOR.
func (c Challenge) MarshalBinary() ([]byte, error) {
	type wire Challenge
	return encoding.Marshal(wire(c))
}

// UnmarshalBinary decodes and validates a challenge.
func (c *Challenge) UnmarshalBinary(data []byte) error {
	type wire Challenge
	var w wire
	if err := encoding.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("challenge: decode: %w", err)
	}
	decoded := Challenge(w)
	if err := decoded.Validate(); err != nil {
		return err
	}
	*c = decoded
	return nil
}
