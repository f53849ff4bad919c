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

// Package challenge implements the commitment and challenge-response
// protocol that proves a quorum approved a specific command.
//
// A Challenge commits to the canonical command encoding and the quorum's
// aggregate digest, adds a fresh random nonce and an expiry, and is signed
// by each approving member. VerifyAndTally checks every approval
// individually, then the threshold, then atomically consumes the nonce so a
// challenge authorizes at most once.
package challenge

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/jeremyhahn/go-quorumshare/pkg/command"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
	"github.com/jeremyhahn/go-quorumshare/pkg/quorum"
)

const (
	// ChallengeLabel domain-separates command digests bound to a quorum.
	ChallengeLabel = "quorumshare/v1/challenge"

	// ApprovalLabel domain-separates the message members sign.
	ApprovalLabel = "quorumshare/v1/approval"

	// DefaultNonceSize is the nonce length in bytes.
	DefaultNonceSize = 32

	// MinNonceSize is the shortest nonce accepted.
	MinNonceSize = 16

	// MaxNonceSize is the longest nonce accepted.
	MaxNonceSize = 64

	// DefaultTTL is how long a challenge accepts approvals.
	DefaultTTL = 5 * time.Minute
)

// Clock returns the current time.
type Clock func() time.Time

// Challenge is the freshness-bound, command-bound value members sign.
type Challenge struct {
	// QuorumID scopes nonce consumption.
	QuorumID string `cbor:"1,keyasint" json:"quorum_id"`

	// CommandDigest binds the command and the quorum version.
	CommandDigest hash.Digest `cbor:"2,keyasint" json:"command_digest"`

	// Nonce is single use per quorum.
	Nonce []byte `cbor:"3,keyasint" json:"nonce"`

	// Expiry is the unix millisecond time after which approvals are refused.
	Expiry int64 `cbor:"4,keyasint" json:"expiry"`

	// QuorumDigest is the aggregate digest of the quorum version the
	// challenge was issued against.
	QuorumDigest hash.Digest `cbor:"5,keyasint" json:"quorum_digest"`
}

type buildConfig struct {
	ttl       time.Duration
	nonceSize int
	clock     Clock
	random    io.Reader
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// WithTTL sets how long the challenge stays valid.
func WithTTL(ttl time.Duration) BuildOption {
	return func(c *buildConfig) {
		c.ttl = ttl
	}
}

// WithNonceSize sets the nonce length.
func WithNonceSize(n int) BuildOption {
	return func(c *buildConfig) {
		c.nonceSize = n
	}
}

// WithBuildClock sets the time source used to compute the expiry.
func WithBuildClock(clock Clock) BuildOption {
	return func(c *buildConfig) {
		c.clock = clock
	}
}

// WithRandom sets the nonce entropy source.
func WithRandom(r io.Reader) BuildOption {
	return func(c *buildConfig) {
		c.random = r
	}
}

// CommandDigest computes the digest a challenge for cmd against q commits
// to: SHA-256 over the canonical command encoding and the quorum's
// aggregate digest, under ChallengeLabel.
func CommandDigest(cmd command.Command, q *quorum.Quorum) (hash.Digest, error) {
	if cmd.Context().QuorumID != q.ID() {
		return hash.Digest{}, fmt.Errorf("%w: command targets %q, quorum is %q",
			ErrQuorumMismatch, cmd.Context().QuorumID, q.ID())
	}
	enc, err := cmd.MarshalBinary()
	if err != nil {
		return hash.Digest{}, err
	}
	agg := q.AggregateDigest()
	return hash.Tagged(ChallengeLabel, enc, agg[:]), nil
}

// Build creates a fresh challenge for cmd against q.
func Build(cmd command.Command, q *quorum.Quorum, opts ...BuildOption) (Challenge, error) {
	cfg := buildConfig{
		ttl:       DefaultTTL,
		nonceSize: DefaultNonceSize,
		clock:     time.Now,
		random:    rand.Reader,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.nonceSize < MinNonceSize || cfg.nonceSize > MaxNonceSize {
		return Challenge{}, fmt.Errorf("%w: nonce size %d outside [%d, %d]",
			ErrInvalidChallenge, cfg.nonceSize, MinNonceSize, MaxNonceSize)
	}
	if cfg.ttl <= 0 {
		return Challenge{}, fmt.Errorf("%w: ttl must be positive", ErrInvalidChallenge)
	}

	digest, err := CommandDigest(cmd, q)
	if err != nil {
		return Challenge{}, err
	}

	nonce := make([]byte, cfg.nonceSize)
	if _, err := io.ReadFull(cfg.random, nonce); err != nil {
		return Challenge{}, fmt.Errorf("challenge: generate nonce: %w", err)
	}

	return Challenge{
		QuorumID:      q.ID(),
		CommandDigest: digest,
		Nonce:         nonce,
		Expiry:        cfg.clock().Add(cfg.ttl).UnixMilli(),
		QuorumDigest:  q.AggregateDigest(),
	}, nil
}

// Validate checks structural well-formedness.
func (c Challenge) Validate() error {
	if c.QuorumID == "" {
		return fmt.Errorf("%w: missing quorum id", ErrInvalidChallenge)
	}
	if c.CommandDigest.IsZero() {
		return fmt.Errorf("%w: missing command digest", ErrInvalidChallenge)
	}
	if len(c.Nonce) < MinNonceSize || len(c.Nonce) > MaxNonceSize {
		return fmt.Errorf("%w: nonce length %d", ErrInvalidChallenge, len(c.Nonce))
	}
	if c.Expiry <= 0 {
		return fmt.Errorf("%w: missing expiry", ErrInvalidChallenge)
	}
	if c.QuorumDigest.IsZero() {
		return fmt.Errorf("%w: missing quorum digest", ErrInvalidChallenge)
	}
	return nil
}

// CheckQuorum returns ErrQuorumMismatch unless c was issued against exactly
// this version of q.
func (c Challenge) CheckQuorum(q *quorum.Quorum) error {
	if c.QuorumID != q.ID() {
		return fmt.Errorf("%w: challenge targets %q, quorum is %q", ErrQuorumMismatch, c.QuorumID, q.ID())
	}
	if !c.QuorumDigest.Equal(q.AggregateDigest()) {
		return fmt.Errorf("%w: challenge issued for another version of %q (now epoch %d)",
			ErrQuorumMismatch, q.ID(), q.Epoch())
	}
	return nil
}

// Binds reports whether the challenge commits to cmd against q.
func (c Challenge) Binds(cmd command.Command, q *quorum.Quorum) bool {
	digest, err := CommandDigest(cmd, q)
	if err != nil {
		return false
	}
	return c.CheckQuorum(q) == nil && digest.Equal(c.CommandDigest)
}

// SigningMessage returns the bytes every approving member signs: a tagged
// hash of the command digest, the nonce, the expiry and the quorum digest.
func (c Challenge) SigningMessage() []byte {
	var expiry [8]byte
	binary.BigEndian.PutUint64(expiry[:], uint64(c.Expiry))
	return hash.Tagged(ApprovalLabel, c.CommandDigest[:], c.Nonce, expiry[:], c.QuorumDigest[:]).Bytes()
}

// ExpiresAt returns the expiry as a time.
func (c Challenge) ExpiresAt() time.Time {
	return time.UnixMilli(c.Expiry)
}

// Expired reports whether approvals are no longer accepted at now.
func (c Challenge) Expired(now time.Time) bool {
	return now.UnixMilli() >= c.Expiry
}

// NonceHex returns the hex encoded nonce.
func (c Challenge) NonceHex() string {
	return hex.EncodeToString(c.Nonce)
}

// Equal reports whether two challenges are identical.
func (c Challenge) Equal(other Challenge) bool {
	return c.QuorumID == other.QuorumID &&
		c.CommandDigest.Equal(other.CommandDigest) &&
		bytes.Equal(c.Nonce, other.Nonce) &&
		c.Expiry == other.Expiry &&
		c.QuorumDigest.Equal(other.QuorumDigest)
}
