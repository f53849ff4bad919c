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

// Package command models the operations a quorum can authorize.
//
// A Command is a tagged variant: a Kind, a kind-specific payload validated
// at construction, and the Context naming the quorum and share it targets.
// Commands are immutable and have exactly one canonical byte encoding,
//
//	[version, kind, payload, [quorum_id, share_id]]
//
// as a CBOR array under Core Deterministic Encoding. That encoding is what
// challenges hash, so two semantically equal commands always bind to the
// same digest.
package command

import (
	"bytes"
	"fmt"

	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
	"github.com/jeremyhahn/go-quorumshare/pkg/encoding"
)

// EncodingVersion is the canonical command encoding version.
const EncodingVersion uint8 = 1

// DigestLabel domain-separates command digests.
const DigestLabel = "quorumshare/v1/command"

// MaxPayloadSize bounds opaque payloads.
const MaxPayloadSize = 64 * 1024

// Context identifies the quorum and share instance a command targets.
type Context struct {
	_        struct{} `cbor:",toarray"`
	QuorumID string   `json:"quorum_id"`
	ShareID  string   `json:"share_id,omitempty"`
}

// NewContext returns a validated Context.
func NewContext(quorumID, shareID string) (Context, error) {
	c := Context{QuorumID: quorumID, ShareID: shareID}
	return c, c.Validate()
}

// Validate checks that the quorum is identified.
func (c Context) Validate() error {
	if c.QuorumID == "" {
		return fmt.Errorf("%w: quorum id is required", ErrInvalidContext)
	}
	return nil
}

// String implements fmt.Stringer.
func (c Context) String() string {
	if c.ShareID == "" {
		return c.QuorumID
	}
	return c.QuorumID + "/" + c.ShareID
}

// Command is an immutable, validated request for quorum authorization.
type Command struct {
	kind    Kind
	payload []byte
	ctx     Context
}

type wireCommand struct {
	_       struct{} `cbor:",toarray"`
	Version uint8
	Kind    Kind
	Payload []byte
	Context Context
}

// New validates payload for kind and returns a Command. Prefer the typed
// constructors; New is used when decoding or relaying opaque payloads.
func New(kind Kind, payload []byte, ctx Context) (Command, error) {
	if !kind.IsValid() {
		return Command{}, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(kind))
	}
	if err := ctx.Validate(); err != nil {
		return Command{}, err
	}
	if len(payload) > MaxPayloadSize {
		return Command{}, fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidPayload, MaxPayloadSize)
	}
	cmd := Command{kind: kind, payload: bytes.Clone(payload), ctx: ctx}
	if err := validatePayload(kind, cmd.payload); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Kind returns the command kind.
func (c Command) Kind() Kind {
	return c.kind
}

// Payload returns a copy of the kind-specific payload.
func (c Command) Payload() []byte {
	return bytes.Clone(c.payload)
}

// Context returns the target quorum and share.
func (c Command) Context() Context {
	return c.ctx
}

// IsZero reports whether c is the zero value.
func (c Command) IsZero() bool {
	return c.kind == 0
}

// Equal reports whether two commands have the same canonical encoding.
func (c Command) Equal(other Command) bool {
	return c.kind == other.kind && c.ctx == other.ctx && bytes.Equal(c.payload, other.payload)
}

// String implements fmt.Stringer.
func (c Command) String() string {
	return fmt.Sprintf("%s@%s", c.kind, c.ctx)
}

// MarshalBinary returns the canonical encoding.
func (c Command) MarshalBinary() ([]byte, error) {
	if c.IsZero() {
		return nil, fmt.Errorf("%w: zero command", ErrUnknownKind)
	}
	payload := c.payload
	if payload == nil {
		payload = []byte{}
	}
	return encoding.Marshal(wireCommand{
		Version: EncodingVersion,
		Kind:    c.kind,
		Payload: payload,
		Context: c.ctx,
	})
}

// UnmarshalBinary decodes and re-validates a canonical encoding.
func (c *Command) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}

// Decode parses a canonical encoding. Non-canonical bytes are refused so a
// command has exactly one digest.
func Decode(data []byte) (Command, error) {
	var w wireCommand
	if err := encoding.UnmarshalCanonical(data, &w); err != nil {
		return Command{}, fmt.Errorf("command: decode: %w", err)
	}
	if w.Version != EncodingVersion {
		return Command{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, w.Version)
	}
	return New(w.Kind, w.Payload, w.Context)
}

// Digest returns the domain-separated hash of the canonical encoding.
func (c Command) Digest() (hash.Digest, error) {
	enc, err := c.MarshalBinary()
	if err != nil {
		return hash.Digest{}, err
	}
	return hash.Tagged(DigestLabel, enc), nil
}
