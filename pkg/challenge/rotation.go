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

	"github.com/jeremyhahn/go-quorumshare/pkg/command"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
	"github.com/jeremyhahn/go-quorumshare/pkg/encoding"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
)

// RotationLabel domain-separates rotation proofs.
const RotationLabel = "quorumshare/v1/rotation"

// RotationProof shows that the incoming key of an identity rotation is
// controlled by the rotating member. The quorum approves the rotation
// command through the usual challenge; the new key additionally signs the
// same challenge under RotationLabel.
type RotationProof struct {
	Key       identity.PublicKey `cbor:"1,keyasint" json:"key"`
	Signature identity.Signature `cbor:"2,keyasint" json:"signature"`
}

func rotationMessage(c Challenge) []byte {
	return hash.Tagged(RotationLabel, c.SigningMessage()).Bytes()
}

// ProveRotation signs the challenge with the incoming identity.
func ProveRotation(c Challenge, next identity.Provider) (RotationProof, error) {
	if err := c.Validate(); err != nil {
		return RotationProof{}, err
	}
	sig, err := next.Sign(rotationMessage(c))
	if err != nil {
		return RotationProof{}, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return RotationProof{Key: next.PublicKey(), Signature: sig}, nil
}

// VerifyRotationProof checks that proof was produced over c by the new key
// named in the identity rotation cmd.
func VerifyRotationProof(c Challenge, cmd command.Command, proof RotationProof) error {
	rot, err := cmd.IdentityRotation()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRotationProof, err)
	}
	if proof.Key != rot.New {
		return fmt.Errorf("%w: proof key %s is not rotation target %s", ErrInvalidRotationProof, proof.Key.Short(), rot.New.Short())
	}
	if err := identity.VerifySignature(proof.Key, rotationMessage(c), proof.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRotationProof, err)
	}
	return nil
}

// MarshalBinary encodes the proof as canonical CBOR.
func (p RotationProof) MarshalBinary() ([]byte, error) {
	type wire RotationProof
	return encoding.Marshal(wire(p))
}

// UnmarshalBinary decodes a proof.
func (p *RotationProof) UnmarshalBinary(data []byte) error {
	type wire RotationProof
	var w wire
	if err := encoding.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("challenge: decode rotation proof: %w", err)
	}
	*p = RotationProof(w)
	return nil
}
