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

import (
	"bytes"
	"fmt"

	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
	"github.com/jeremyhahn/go-quorumshare/pkg/encoding"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
)

// MemberAddition is the payload of a KindMemberAddition command. A zero
// Threshold keeps the current threshold.
type MemberAddition struct {
	Member    identity.SubIdentity `cbor:"1,keyasint" json:"member"`
	Threshold uint                 `cbor:"2,keyasint,omitempty" json:"threshold,omitempty"`
}

// MemberRemoval is the payload of a KindMemberRemoval command. A zero
// Threshold keeps the current threshold, clamped to the new member count.
type MemberRemoval struct {
	Key       identity.PublicKey `cbor:"1,keyasint" json:"key"`
	Threshold uint               `cbor:"2,keyasint,omitempty" json:"threshold,omitempty"`
}

// IdentityRotation replaces one member's key while keeping its label.
type IdentityRotation struct {
	Old identity.PublicKey `cbor:"1,keyasint" json:"old"`
	New identity.PublicKey `cbor:"2,keyasint" json:"new"`
}

// ShareTransfer names the device a share is backed up to or recovered onto.
type ShareTransfer struct {
	Peer identity.PublicKey `cbor:"1,keyasint" json:"peer"`
}

// NewKeyGeneration authorizes a key generation round. params are opaque
// engine parameters and may be empty.
func NewKeyGeneration(ctx Context, params []byte) (Command, error) {
	return New(KindKeyGeneration, params, ctx)
}

// NewSigning authorizes signing of a 32-byte message digest.
func NewSigning(ctx Context, digest []byte) (Command, error) {
	return New(KindSigning, digest, ctx)
}

// NewKeyRefresh authorizes a key refresh round. params may be empty.
func NewKeyRefresh(ctx Context, params []byte) (Command, error) {
	return New(KindKeyRefresh, params, ctx)
}

// NewMemberAddition authorizes adding member to the quorum.
func NewMemberAddition(ctx Context, member identity.SubIdentity, threshold uint) (Command, error) {
	return newStructured(KindMemberAddition, ctx, MemberAddition{Member: member, Threshold: threshold})
}

// NewMemberRemoval authorizes removing the member with key.
func NewMemberRemoval(ctx Context, key identity.PublicKey, threshold uint) (Command, error) {
	return newStructured(KindMemberRemoval, ctx, MemberRemoval{Key: key, Threshold: threshold})
}

// NewIdentityRotation authorizes replacing old with next.
func NewIdentityRotation(ctx Context, old, next identity.PublicKey) (Command, error) {
	return newStructured(KindIdentityRotation, ctx, IdentityRotation{Old: old, New: next})
}

// NewShareBackup authorizes exporting the share to recipient.
func NewShareBackup(ctx Context, recipient identity.PublicKey) (Command, error) {
	return newStructured(KindShareBackup, ctx, ShareTransfer{Peer: recipient})
}

// NewShareRecovery authorizes restoring the share onto device.
func NewShareRecovery(ctx Context, device identity.PublicKey) (Command, error) {
	return newStructured(KindShareRecovery, ctx, ShareTransfer{Peer: device})
}

func newStructured(kind Kind, ctx Context, v any) (Command, error) {
	payload, err := encoding.Marshal(v)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return New(kind, payload, ctx)
}

func validatePayload(kind Kind, payload []byte) error {
	switch kind {
	case KindKeyGeneration, KindKeyRefresh:
		return nil
	case KindSigning:
		if len(payload) != hash.Size {
			return fmt.Errorf("%w: signing digest must be %d bytes, got %d", ErrInvalidPayload, hash.Size, len(payload))
		}
		return nil
	case KindMemberAddition:
		var p MemberAddition
		if err := decodePayload(payload, &p); err != nil {
			return err
		}
		return validateKey("member", p.Member.Key)
	case KindMemberRemoval:
		var p MemberRemoval
		if err := decodePayload(payload, &p); err != nil {
			return err
		}
		return validateKey("member", p.Key)
	case KindIdentityRotation:
		var p IdentityRotation
		if err := decodePayload(payload, &p); err != nil {
			return err
		}
		if err := validateKey("old", p.Old); err != nil {
			return err
		}
		if err := validateKey("new", p.New); err != nil {
			return err
		}
		if p.Old.Equal(p.New) {
			return fmt.Errorf("%w: rotation to the same key", ErrInvalidPayload)
		}
		return nil
	case KindShareBackup, KindShareRecovery:
		var p ShareTransfer
		if err := decodePayload(payload, &p); err != nil {
			return err
		}
		return validateKey("peer", p.Peer)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint8(kind))
	}
}

func decodePayload(payload []byte, v any) error {
	if err := encoding.UnmarshalCanonical(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func validateKey(field string, key identity.PublicKey) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("%w: %s key: %v", ErrInvalidPayload, field, err)
	}
	return nil
}

// SigningDigest returns the message digest of a signing command.
func (c Command) SigningDigest() ([]byte, error) {
	if c.kind != KindSigning {
		return nil, fmt.Errorf("%w: %s is not %s", ErrKindMismatch, c.kind, KindSigning)
	}
	return bytes.Clone(c.payload), nil
}

// MemberAddition decodes the payload of a member addition command.
func (c Command) MemberAddition() (MemberAddition, error) {
	var p MemberAddition
	return p, c.decodeAs(KindMemberAddition, &p)
}

// MemberRemoval decodes the payload of a member removal command.
func (c Command) MemberRemoval() (MemberRemoval, error) {
	var p MemberRemoval
	return p, c.decodeAs(KindMemberRemoval, &p)
}

// IdentityRotation decodes the payload of an identity rotation command.
func (c Command) IdentityRotation() (IdentityRotation, error) {
	var p IdentityRotation
	return p, c.decodeAs(KindIdentityRotation, &p)
}

// ShareTransfer decodes the payload of a share backup or recovery command.
func (c Command) ShareTransfer() (ShareTransfer, error) {
	if c.kind != KindShareBackup && c.kind != KindShareRecovery {
		return ShareTransfer{}, fmt.Errorf("%w: %s carries no share transfer", ErrKindMismatch, c.kind)
	}
	var p ShareTransfer
	return p, decodePayload(c.payload, &p)
}

func (c Command) decodeAs(kind Kind, v any) error {
	if c.kind != kind {
		return fmt.Errorf("%w: %s is not %s", ErrKindMismatch, c.kind, kind)
	}
	return decodePayload(c.payload, v)
}
