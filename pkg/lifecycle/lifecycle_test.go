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
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-quorumshare/pkg/backup"
	"github.com/jeremyhahn/go-quorumshare/pkg/challenge"
	"github.com/jeremyhahn/go-quorumshare/pkg/command"
	"github.com/jeremyhahn/go-quorumshare/pkg/correlation"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
	"github.com/jeremyhahn/go-quorumshare/pkg/logging"
	"github.com/jeremyhahn/go-quorumshare/pkg/metrics"
	"github.com/jeremyhahn/go-quorumshare/pkg/quorum"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	providers map[string]*identity.SoftwareProvider
	quorum    *quorum.Quorum
	nonces    *challenge.StorageNonceStore
	ctx       command.Context
	now       time.Time
}

func (h *harness) clock() time.Time {
	return h.now
}

func (h *harness) key(name string) identity.PublicKey {
	return h.providers[name].PublicKey()
}

// newHarness builds the quorum {A, B, C} with threshold 2 plus the
// non-member providers D and N.
func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		providers: make(map[string]*identity.SoftwareProvider),
		nonces:    challenge.NewMemoryNonceStore(),
		now:       epoch,
	}
	var subs []identity.SubIdentity
	for _, name := range []string{"A", "B", "C", "D", "N"} {
		p, err := identity.NewSoftwareProvider()
		require.NoError(t, err)
		t.Cleanup(p.Destroy)
		h.providers[name] = p
		if name == "A" || name == "B" || name == "C" {
			subs = append(subs, p.SubIdentity(name))
		}
	}

	q, err := quorum.New("wallet", subs, 2)
	require.NoError(t, err)
	h.quorum = q

	h.ctx, err = command.NewContext("wallet", "share-0")
	require.NoError(t, err)
	return h
}

func (h *harness) signing(t *testing.T) command.Command {
	t.Helper()
	cmd, err := command.NewSigning(h.ctx, hash.Sum([]byte("transfer 1 BTC")).Bytes())
	require.NoError(t, err)
	return cmd
}

// open returns a lifecycle in StateCollectingApprovals.
func (h *harness) open(t *testing.T, cmd command.Command, opts ...Option) (*Lifecycle, challenge.Challenge) {
	t.Helper()
	opts = append([]Option{WithClock(h.clock), WithChallengeTTL(time.Minute)}, opts...)
	l, err := New(cmd, h.quorum, h.nonces, opts...)
	require.NoError(t, err)
	c, err := l.IssueChallenge()
	require.NoError(t, err)
	require.NoError(t, l.Open())
	return l, c
}

func (h *harness) approve(t *testing.T, c challenge.Challenge, name string) challenge.Approval {
	t.Helper()
	a, err := challenge.Collect(c, h.providers[name])
	require.NoError(t, err)
	return a
}

func TestLifecycle_Authorized(t *testing.T) {
	h := newHarness(t)
	cmd := h.signing(t)

	l, err := New(cmd, h.quorum, h.nonces, WithClock(h.clock))
	require.NoError(t, err)
	assert.Equal(t, StateProposed, l.State())
	assert.NotEmpty(t, l.ID())
	_, ok := l.Challenge()
	assert.False(t, ok)

	c, err := l.IssueChallenge()
	require.NoError(t, err)
	assert.Equal(t, StateChallengeIssued, l.State())
	assert.True(t, c.Binds(cmd, h.quorum))

	require.NoError(t, l.Open())
	assert.Equal(t, StateCollectingApprovals, l.State())

	auth, err := l.Submit(h.approve(t, c, "A"))
	require.NoError(t, err)
	assert.Nil(t, auth)
	assert.Equal(t, 1, l.Pending())

	auth, err = l.Submit(h.approve(t, c, "C"))
	require.NoError(t, err)
	require.NotNil(t, auth)
	assert.Equal(t, StateAuthorized, l.State())
	assert.Equal(t, l.ID(), auth.AttemptID)
	assert.True(t, auth.Command.Equal(cmd))
	assert.Equal(t, epoch, auth.AuthorizedAt)
	assert.ElementsMatch(t, []identity.PublicKey{h.key("A"), h.key("C")}, auth.QuorumApproval.Signers())
	require.NoError(t, auth.QuorumApproval.Verify(h.quorum))

	got, ok := l.Authorization()
	assert.True(t, ok)
	assert.Same(t, auth, got)
	assert.Zero(t, l.Pending())

	// B arrives late: the lifecycle is closed and the nonce is spent.
	late := h.approve(t, c, "B")
	_, err = l.Submit(late)
	assert.ErrorIs(t, err, ErrTerminal)
	assert.ErrorIs(t, err, challenge.ErrReplayOrExpired)
	assert.Equal(t, StateAuthorized, l.State())
	assert.ErrorIs(t, challenge.CheckApproval(c, late, h.quorum, h.nonces, challenge.WithClock(h.clock)), challenge.ErrReplayOrExpired)
}

func TestLifecycle_NonMemberRejects(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	l, c := h.open(t, h.signing(t), WithLogger(logging.New(&buf, logging.LevelDebug, "json")))

	_, err := l.Submit(h.approve(t, c, "A"))
	require.NoError(t, err)

	_, err = l.Submit(h.approve(t, c, "D"))
	assert.ErrorIs(t, err, challenge.ErrUnauthorizedSigner)
	assert.Equal(t, StateRejected, l.State())
	assert.ErrorIs(t, l.Err(), challenge.ErrUnauthorizedSigner)
	assert.Contains(t, buf.String(), `"severity":"adversarial"`)
	assert.Contains(t, buf.String(), l.ID())

	_, err = l.Submit(h.approve(t, c, "B"))
	assert.ErrorIs(t, err, ErrTerminal)
	assert.NotErrorIs(t, err, challenge.ErrReplayOrExpired)

	consumed, err := h.nonces.Consumed(c.QuorumID, c.Nonce)
	require.NoError(t, err)
	assert.False(t, consumed)
}

func TestLifecycle_LenientPolicyContinues(t *testing.T) {
	h := newHarness(t)
	l, c := h.open(t, h.signing(t), WithRejectionPolicy(LenientRejectionPolicy))

	_, err := l.Submit(h.approve(t, c, "D"))
	assert.ErrorIs(t, err, challenge.ErrUnauthorizedSigner)
	assert.Equal(t, StateCollectingApprovals, l.State())

	_, err = l.Submit(h.approve(t, c, "A"))
	require.NoError(t, err)
	auth, err := l.Submit(h.approve(t, c, "B"))
	require.NoError(t, err)
	require.NotNil(t, auth)
}

func TestLifecycle_ForgedSignature(t *testing.T) {
	h := newHarness(t)

	t.Run("default policy refuses and continues", func(t *testing.T) {
		l, c := h.open(t, h.signing(t))
		forged := h.approve(t, c, "B")
		forged.Signer = h.key("A")

		_, err := l.Submit(forged)
		assert.ErrorIs(t, err, challenge.ErrInvalidSignature)
		assert.Equal(t, StateCollectingApprovals, l.State())
		assert.Zero(t, l.Pending())
	})

	t.Run("strict policy rejects", func(t *testing.T) {
		l, c := h.open(t, h.signing(t), WithRejectionPolicy(StrictRejectionPolicy))
		forged := h.approve(t, c, "B")
		forged.Signer = h.key("A")

		_, err := l.Submit(forged)
		assert.ErrorIs(t, err, challenge.ErrInvalidSignature)
		assert.Equal(t, StateRejected, l.State())
	})
}

func TestLifecycle_DuplicateApproval(t *testing.T) {
	h := newHarness(t)
	l, c := h.open(t, h.signing(t))

	a := h.approve(t, c, "A")
	_, err := l.Submit(a)
	require.NoError(t, err)

	_, err = l.Submit(a)
	assert.ErrorIs(t, err, challenge.ErrDuplicateApproval)
	assert.Equal(t, StateCollectingApprovals, l.State())
	assert.Equal(t, 1, l.Pending())
}

func TestLifecycle_ExpiresAtTally(t *testing.T) {
	h := newHarness(t)
	l, c := h.open(t, h.signing(t))

	_, err := l.Submit(h.approve(t, c, "A"))
	require.NoError(t, err)

	h.now = c.ExpiresAt()
	_, err = l.Submit(h.approve(t, c, "B"))
	assert.ErrorIs(t, err, challenge.ErrReplayOrExpired)
	assert.Equal(t, StateExpired, l.State())
	assert.ErrorIs(t, l.Err(), challenge.ErrReplayOrExpired)
}

func TestLifecycle_NonceConsumedElsewhere(t *testing.T) {
	h := newHarness(t)
	l, c := h.open(t, h.signing(t))

	_, err := challenge.VerifyAndTally(c, []challenge.Approval{
		h.approve(t, c, "A"),
		h.approve(t, c, "B"),
	}, h.quorum, h.nonces, challenge.WithClock(h.clock))
	require.NoError(t, err)

	_, err = l.Submit(h.approve(t, c, "C"))
	assert.ErrorIs(t, err, challenge.ErrReplayOrExpired)
	assert.Equal(t, StateExpired, l.State())
}

func TestLifecycle_Transitions(t *testing.T) {
	h := newHarness(t)
	cmd := h.signing(t)

	l, err := New(cmd, h.quorum, h.nonces, WithClock(h.clock))
	require.NoError(t, err)

	assert.ErrorIs(t, l.Open(), ErrInvalidTransition)
	_, err = l.Submit(challenge.Approval{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = l.IssueChallenge()
	require.NoError(t, err)
	_, err = l.IssueChallenge()
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StateChallengeIssued, te.From)
	assert.Equal(t, StateChallengeIssued, te.To)

	require.NoError(t, l.Expire())
	assert.Equal(t, StateExpired, l.State())
	assert.ErrorIs(t, l.Err(), ErrExpired)

	assert.ErrorIs(t, l.Expire(), ErrTerminal)
	assert.ErrorIs(t, l.Reject(nil), ErrTerminal)
	assert.ErrorIs(t, l.Open(), ErrTerminal)
	_, err = l.IssueChallenge()
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestLifecycle_Reject(t *testing.T) {
	h := newHarness(t)
	l, _ := h.open(t, h.signing(t))

	require.NoError(t, l.Reject(nil))
	assert.Equal(t, StateRejected, l.State())
	assert.ErrorIs(t, l.Err(), ErrRejected)

	l2, _ := h.open(t, h.signing(t))
	reason := errors.New("operator cancelled")
	require.NoError(t, l2.Reject(reason))
	assert.Equal(t, reason, l2.Err())
}

func TestLifecycle_FreshNoncePerAttempt(t *testing.T) {
	h := newHarness(t)
	cmd := h.signing(t)

	l1, c1 := h.open(t, cmd)
	require.NoError(t, l1.Expire())
	_, c2 := h.open(t, cmd)

	assert.Equal(t, c1.CommandDigest, c2.CommandDigest)
	assert.NotEqual(t, c1.Nonce, c2.Nonce)
}

func TestNew_Validation(t *testing.T) {
	h := newHarness(t)
	cmd := h.signing(t)

	_, err := New(command.Command{}, h.quorum, h.nonces)
	assert.ErrorIs(t, err, command.ErrInvalidPayload)

	_, err = New(cmd, nil, h.nonces)
	assert.Error(t, err)

	_, err = New(cmd, h.quorum, nil)
	assert.Error(t, err)

	other, err := command.NewContext("vault", "share-0")
	require.NoError(t, err)
	foreign, err := command.NewSigning(other, hash.Sum([]byte("x")).Bytes())
	require.NoError(t, err)
	_, err = New(foreign, h.quorum, h.nonces)
	assert.ErrorIs(t, err, challenge.ErrQuorumMismatch)
}

func TestNew_WithRequest(t *testing.T) {
	h := newHarness(t)
	cmd := h.signing(t)
	reqClock := challenge.WithRequestClock(h.clock)

	req, err := challenge.NewRequest(cmd, h.providers["B"], reqClock)
	require.NoError(t, err)
	l, err := New(cmd, h.quorum, h.nonces, WithClock(h.clock), WithRequest(req))
	require.NoError(t, err)
	assert.Equal(t, StateProposed, l.State())

	outsider, err := challenge.NewRequest(cmd, h.providers["D"], reqClock)
	require.NoError(t, err)
	_, err = New(cmd, h.quorum, h.nonces, WithClock(h.clock), WithRequest(outsider))
	assert.ErrorIs(t, err, challenge.ErrUnauthorizedSigner)

	h.now = epoch.Add(challenge.DefaultRequestWindow + time.Second)
	_, err = New(cmd, h.quorum, h.nonces, WithClock(h.clock), WithRequest(req))
	assert.ErrorIs(t, err, challenge.ErrRequestExpired)
}

func TestNew_WithContextReusesAttemptID(t *testing.T) {
	h := newHarness(t)
	ctx := correlation.WithAttemptID(context.Background(), "attempt-42")

	l, err := New(h.signing(t), h.quorum, h.nonces, WithContext(ctx))
	require.NoError(t, err)
	assert.Equal(t, "attempt-42", l.ID())
	assert.Equal(t, "attempt-42", correlation.GetAttemptID(l.Context()))
}

func TestLifecycle_IdentityRotation(t *testing.T) {
	h := newHarness(t)
	cmd, err := command.NewIdentityRotation(h.ctx, h.key("A"), h.key("N"))
	require.NoError(t, err)

	l, c := h.open(t, cmd)
	_, err = l.Submit(h.approve(t, c, "A"))
	require.NoError(t, err)
	auth, err := l.Submit(h.approve(t, c, "B"))
	require.NoError(t, err)
	assert.Nil(t, auth)
	assert.Equal(t, StateCollectingApprovals, l.State())

	proof, err := challenge.ProveRotation(c, h.providers["N"])
	require.NoError(t, err)
	auth, err = l.SubmitRotationProof(proof)
	require.NoError(t, err)
	require.NotNil(t, auth)
	require.NotNil(t, auth.RotationProof)

	next, err := auth.ApplyTo(h.quorum)
	require.NoError(t, err)
	assert.Equal(t, h.quorum.Epoch()+1, next.Epoch())
	assert.False(t, next.Contains(h.key("A")))
	m, ok := next.Member(h.key("N"))
	require.True(t, ok)
	assert.Equal(t, "A", m.Label)
}

func TestLifecycle_BadRotationProofRejects(t *testing.T) {
	h := newHarness(t)
	cmd, err := command.NewIdentityRotation(h.ctx, h.key("A"), h.key("N"))
	require.NoError(t, err)

	l, c := h.open(t, cmd)
	proof, err := challenge.ProveRotation(c, h.providers["D"])
	require.NoError(t, err)

	_, err = l.SubmitRotationProof(proof)
	assert.ErrorIs(t, err, challenge.ErrInvalidRotationProof)
	assert.Equal(t, StateRejected, l.State())
}

func TestLifecycle_RotationProofOnOtherKind(t *testing.T) {
	h := newHarness(t)
	l, _ := h.open(t, h.signing(t))

	_, err := l.SubmitRotationProof(challenge.RotationProof{})
	assert.ErrorIs(t, err, ErrNotRotation)
}

func TestAuthorization_ApplyToWrongQuorum(t *testing.T) {
	h := newHarness(t)
	cmd, err := command.NewMemberRemoval(h.ctx, h.key("C"), 0)
	require.NoError(t, err)

	l, c := h.open(t, cmd)
	_, err = l.Submit(h.approve(t, c, "A"))
	require.NoError(t, err)
	auth, err := l.Submit(h.approve(t, c, "B"))
	require.NoError(t, err)
	require.NotNil(t, auth)

	next, err := auth.ApplyTo(h.quorum)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Size())

	_, err = auth.ApplyTo(next)
	assert.ErrorIs(t, err, challenge.ErrQuorumMismatch)
}

func TestLifecycle_Metrics(t *testing.T) {
	metrics.Enable()
	h := newHarness(t)
	kind := command.KindSigning.String()
	before := testutil.ToFloat64(metrics.TransitionsTotal.WithLabelValues(kind, StateAuthorized.String()))

	l, c := h.open(t, h.signing(t))
	_, err := l.Submit(h.approve(t, c, "A"))
	require.NoError(t, err)
	_, err = l.Submit(h.approve(t, c, "B"))
	require.NoError(t, err)

	after := testutil.ToFloat64(metrics.TransitionsTotal.WithLabelValues(kind, StateAuthorized.String()))
	assert.Equal(t, before+1, after)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Severity
	}{
		{nil, SeverityUnknown},
		{challenge.ErrInvalidSignature, SeverityAdversarial},
		{backup.ErrAuthenticationFailure, SeverityAdversarial},
		{challenge.ErrInvalidRotationProof, SeverityAdversarial},
		{&challenge.ApprovalError{Err: challenge.ErrInvalidSignature}, SeverityAdversarial},
		{challenge.ErrReplayOrExpired, SeverityBenign},
		{&challenge.InsufficientError{Have: 1, Need: 2}, SeverityBenign},
		{challenge.ErrDuplicateApproval, SeverityBenign},
		{challenge.ErrUnauthorizedSigner, SeverityUnknown},
		{errors.New("disk full"), SeverityUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}

	assert.Equal(t, "adversarial", SeverityAdversarial.String())
	assert.Equal(t, SeverityAdversarial, Failure{Err: challenge.ErrUnauthorizedSigner, SignedByNonMember: true}.Severity())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "collecting_approvals", StateCollectingApprovals.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateExpired.IsTerminal())
	assert.False(t, StateProposed.IsTerminal())
}

func TestPolicyByName(t *testing.T) {
	nonMember := Failure{Err: challenge.ErrUnauthorizedSigner, SignedByNonMember: true}
	forged := Failure{Err: challenge.ErrInvalidSignature}

	p, err := PolicyByName("")
	require.NoError(t, err)
	assert.True(t, p(nonMember))
	assert.False(t, p(forged))

	p, err = PolicyByName("Strict")
	require.NoError(t, err)
	assert.True(t, p(forged))

	p, err = PolicyByName("lenient")
	require.NoError(t, err)
	assert.False(t, p(nonMember))

	_, err = PolicyByName("paranoid")
	assert.Error(t, err)
}
