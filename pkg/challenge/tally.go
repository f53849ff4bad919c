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
	"time"

	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
	"github.com/jeremyhahn/go-quorumshare/pkg/quorum"
)

type verifyConfig struct {
	clock Clock
}

// VerifyOption configures VerifyAndTally and CheckApproval.
type VerifyOption func(*verifyConfig)

// WithClock sets the time source used for expiry checks.
func WithClock(clock Clock) VerifyOption {
	return func(c *verifyConfig) {
		c.clock = clock
	}
}

func newVerifyConfig(opts []VerifyOption) verifyConfig {
	cfg := verifyConfig{clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// CheckApproval runs the per-approval checks in order: membership,
// signature, then replay and expiry. Duplicate detection needs the whole
// set and is left to the caller. The returned error is an *ApprovalError.
func CheckApproval(c Challenge, a Approval, q *quorum.Quorum, nonces NonceStore, opts ...VerifyOption) error {
	cfg := newVerifyConfig(opts)
	if err := c.CheckQuorum(q); err != nil {
		return &ApprovalError{Index: -1, Signer: a.Signer, Err: err}
	}
	return checkOne(c, -1, a, q, nonces, cfg.clock())
}

func checkOne(c Challenge, index int, a Approval, q *quorum.Quorum, nonces NonceStore, now time.Time) error {
	fail := func(err error, sigValid bool) error {
		return &ApprovalError{Index: index, Signer: a.Signer, SignatureValid: sigValid, Err: err}
	}

	if !q.Contains(a.Signer) {
		return fail(ErrUnauthorizedSigner, false)
	}
	if err := a.Verify(c); err != nil {
		return fail(err, false)
	}
	if c.Expired(now) {
		return fail(fmt.Errorf("%w: expired at %s", ErrReplayOrExpired, c.ExpiresAt().UTC().Format(time.RFC3339)), true)
	}
	consumed, err := nonces.Consumed(c.QuorumID, c.Nonce)
	if err != nil {
		return fail(err, true)
	}
	if consumed {
		return fail(fmt.Errorf("%w: nonce %s already consumed", ErrReplayOrExpired, c.NonceHex()), true)
	}
	return nil
}

// VerifyAndTally verifies approvals for c against q and, on success,
// consumes the challenge nonce and returns the QuorumApproval.
//
// Each approval is checked for membership (ErrUnauthorizedSigner),
// uniqueness (ErrDuplicateApproval), signature (ErrInvalidSignature) and
// then replay or expiry (ErrReplayOrExpired). Only when all pass is the
// count compared with the threshold (ErrInsufficientQuorum). The nonce is
// recorded last, atomically; a concurrent call that loses the race fails
// with ErrReplayOrExpired.
func VerifyAndTally(c Challenge, approvals []Approval, q *quorum.Quorum, nonces NonceStore, opts ...VerifyOption) (*QuorumApproval, error) {
	cfg := newVerifyConfig(opts)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := c.CheckQuorum(q); err != nil {
		return nil, err
	}

	now := cfg.clock()
	accepted := make(map[identity.PublicKey]Approval, len(approvals))

	for i, a := range approvals {
		if !q.Contains(a.Signer) {
			return nil, &ApprovalError{Index: i, Signer: a.Signer, Err: ErrUnauthorizedSigner}
		}
		if _, dup := accepted[a.Signer]; dup {
			return nil, &ApprovalError{Index: i, Signer: a.Signer, Err: ErrDuplicateApproval}
		}
		if err := checkOne(c, i, a, q, nonces, now); err != nil {
			return nil, err
		}
		accepted[a.Signer] = a
	}

	if len(accepted) < q.Threshold() {
		return nil, &InsufficientError{Have: len(accepted), Need: q.Threshold()}
	}

	if err := nonces.Consume(c.QuorumID, c.Nonce, c.ExpiresAt()); err != nil {
		if errors.Is(err, ErrReplayOrExpired) {
			return nil, fmt.Errorf("%w: nonce %s consumed concurrently", ErrReplayOrExpired, c.NonceHex())
		}
		return nil, err
	}

	return &QuorumApproval{Challenge: c, Approvals: accepted}, nil
}

// Verify re-checks a received QuorumApproval against q without touching
// any nonce store: every signer is a member, every signature verifies and
// the threshold is met. Parties that only consume an authorization (such
// as the MPC engine) use this; replay protection stays with the issuer.
func (qa *QuorumApproval) Verify(q *quorum.Quorum) error {
	if err := qa.Challenge.Validate(); err != nil {
		return err
	}
	if err := qa.Challenge.CheckQuorum(q); err != nil {
		return err
	}
	for i, a := range qa.List() {
		if !q.Contains(a.Signer) {
			return &ApprovalError{Index: i, Signer: a.Signer, Err: ErrUnauthorizedSigner}
		}
		if err := a.Verify(qa.Challenge); err != nil {
			return &ApprovalError{Index: i, Signer: a.Signer, Err: err}
		}
	}
	if qa.Len() < q.Threshold() {
		return &InsufficientError{Have: qa.Len(), Need: q.Threshold()}
	}
	return nil
}
