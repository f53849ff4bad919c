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
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-quorumshare/pkg/command"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
	"github.com/jeremyhahn/go-quorumshare/pkg/encoding"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
	"github.com/jeremyhahn/go-quorumshare/pkg/quorum"
)

const (
	// RequestLabel domain-separates identity-authenticated requests.
	RequestLabel = "quorumshare/v1/request"

	// DefaultRequestWindow is how old a signed request may be.
	DefaultRequestWindow = 5 * time.Minute

	// DefaultRequestSkew is how far in the future a request may be dated.
	DefaultRequestSkew = 30 * time.Second
)

// Request is a command proposal signed by a single member. It
// authenticates who initiated a lifecycle before the quorum challenge is
// issued.
type Request struct {
	CommandDigest hash.Digest        `cbor:"1,keyasint" json:"command_digest"`
	Timestamp     int64              `cbor:"2,keyasint" json:"timestamp"`
	Signer        identity.PublicKey `cbor:"3,keyasint" json:"signer"`
	Signature     identity.Signature `cbor:"4,keyasint" json:"signature"`
}

type requestConfig struct {
	clock  Clock
	window time.Duration
	skew   time.Duration
}

// RequestOption configures NewRequest and VerifyRequest.
type RequestOption func(*requestConfig)

// WithRequestClock sets the time source.
func WithRequestClock(clock Clock) RequestOption {
	return func(c *requestConfig) {
		c.clock = clock
	}
}

// WithRequestWindow sets the maximum accepted request age.
func WithRequestWindow(d time.Duration) RequestOption {
	return func(c *requestConfig) {
		c.window = d
	}
}

// WithRequestSkew sets the maximum accepted clock skew into the future.
func WithRequestSkew(d time.Duration) RequestOption {
	return func(c *requestConfig) {
		c.skew = d
	}
}

func newRequestConfig(opts []RequestOption) requestConfig {
	cfg := requestConfig{
		clock:  time.Now,
		window: DefaultRequestWindow,
		skew:   DefaultRequestSkew,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func requestMessage(digest hash.Digest, timestamp int64) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	return hash.Tagged(RequestLabel, digest[:], ts[:]).Bytes()
}

// NewRequest signs cmd with provider at the current time.
func NewRequest(cmd command.Command, provider identity.Provider, opts ...RequestOption) (Request, error) {
	cfg := newRequestConfig(opts)

	digest, err := cmd.Digest()
	if err != nil {
		return Request{}, err
	}

	ts := cfg.clock().UnixMilli()
	sig, err := provider.Sign(requestMessage(digest, ts))
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	return Request{
		CommandDigest: digest,
		Timestamp:     ts,
		Signer:        provider.PublicKey(),
		Signature:     sig,
	}, nil
}

// VerifyRequest checks that r was signed by a member of q for exactly cmd
// and within the accepted time window.
func VerifyRequest(r Request, cmd command.Command, q *quorum.Quorum, opts ...RequestOption) error {
	cfg := newRequestConfig(opts)

	digest, err := cmd.Digest()
	if err != nil {
		return err
	}
	if !digest.Equal(r.CommandDigest) {
		return ErrCommandMismatch
	}
	if cmd.Context().QuorumID != q.ID() {
		return fmt.Errorf("%w: command targets %q, quorum is %q", ErrQuorumMismatch, cmd.Context().QuorumID, q.ID())
	}
	if !q.Contains(r.Signer) {
		return &ApprovalError{Index: -1, Signer: r.Signer, Err: ErrUnauthorizedSigner}
	}

	if err := identity.VerifySignature(r.Signer, requestMessage(r.CommandDigest, r.Timestamp), r.Signature); err != nil {
		return &ApprovalError{Index: -1, Signer: r.Signer, Err: wrapSignatureError(err)}
	}

	now := cfg.clock()
	issued := time.UnixMilli(r.Timestamp)
	if issued.After(now.Add(cfg.skew)) {
		return fmt.Errorf("%w: issued %s ahead", ErrInvalidTimestamp, issued.Sub(now))
	}
	if now.Sub(issued) > cfg.window {
		return fmt.Errorf("%w: issued %s ago", ErrRequestExpired, now.Sub(issued))
	}
	return nil
}

func wrapSignatureError(err error) error {
	if errors.Is(err, ErrInvalidSignature) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
}

// MarshalBinary encodes the request as canonical CBOR.
func (r Request) MarshalBinary() ([]byte, error) {
	type wire Request
	return encoding.Marshal(wire(r))
}

// UnmarshalBinary decodes a request.
func (r *Request) UnmarshalBinary(data []byte) error {
	type wire Request
	var w wire
	if err := encoding.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("challenge: decode request: %w", err)
	}
	*r = Request(w)
	return nil
}
