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

// Package lifecycle drives one authorization attempt for a command from
// proposal to a terminal outcome:
//
//	Proposed -> ChallengeIssued -> CollectingApprovals -> Authorized
//	                                                   -> Rejected
//	                                                   -> Expired
//
// A Lifecycle owns its challenge; a terminal lifecycle is never reused; a
// new attempt needs a new Lifecycle and therefore a fresh nonce. Methods
// are safe for concurrent use.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jeremyhahn/go-quorumshare/pkg/challenge"
	"github.com/jeremyhahn/go-quorumshare/pkg/command"
	"github.com/jeremyhahn/go-quorumshare/pkg/correlation"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
	"github.com/jeremyhahn/go-quorumshare/pkg/logging"
	"github.com/jeremyhahn/go-quorumshare/pkg/metrics"
	"github.com/jeremyhahn/go-quorumshare/pkg/quorum"
)

// Authorization is the go-ahead produced when a quorum approves a command.
type Authorization struct {
	AttemptID      string
	Command        command.Command
	QuorumApproval *challenge.QuorumApproval
	RotationProof  *challenge.RotationProof
	AuthorizedAt   time.Time
}

// ApplyTo returns the quorum that results from an authorized membership
// change.
func (a *Authorization) ApplyTo(q *quorum.Quorum) (*quorum.Quorum, error) {
	if a.QuorumApproval == nil || !a.QuorumApproval.Challenge.Binds(a.Command, q) {
		return nil, fmt.Errorf("%w: authorization does not bind quorum %s", challenge.ErrQuorumMismatch, q)
	}
	return q.ApplyMembershipChange(a.Command)
}

type config struct {
	ctx         context.Context
	clock       challenge.Clock
	logger      logging.Logger
	policy      RejectionPolicy
	ttl         time.Duration
	nonceSize   int
	random      io.Reader
	request     *challenge.Request
	requestOpts []challenge.RequestOption
}

// Option configures a Lifecycle.
type Option func(*config)

// WithContext attaches a context. An attempt ID already present on it is
// reused and its correlation fields are added to every log entry.
func WithContext(ctx context.Context) Option {
	return func(c *config) {
		c.ctx = ctx
	}
}

// WithClock sets the time source for challenge expiry and tallying.
func WithClock(clock challenge.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithRejectionPolicy replaces DefaultRejectionPolicy.
func WithRejectionPolicy(p RejectionPolicy) Option {
	return func(c *config) {
		c.policy = p
	}
}

// WithChallengeTTL sets how long the issued challenge stays valid.
func WithChallengeTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithNonceSize sets the challenge nonce length.
func WithNonceSize(n int) Option {
	return func(c *config) {
		c.nonceSize = n
	}
}

// WithRandom sets the entropy source for the challenge nonce.
func WithRandom(r io.Reader) Option {
	return func(c *config) {
		c.random = r
	}
}

// WithRequest requires the proposal to carry an identity-authenticated
// request from a quorum member. New fails if it does not verify.
func WithRequest(r challenge.Request, opts ...challenge.RequestOption) Option {
	return func(c *config) {
		c.request = &r
		c.requestOpts = opts
	}
}

// Lifecycle is one authorization attempt.
type Lifecycle struct {
	mu sync.Mutex

	id     string
	ctx    context.Context
	cmd    command.Command
	quorum *quorum.Quorum
	nonces challenge.NonceStore
	cfg    config
	logger logging.Logger
	state  State

	challenge challenge.Challenge
	pending   []challenge.Approval
	signers   map[identity.PublicKey]struct{}
	rotation  *challenge.RotationProof
	auth      *Authorization
	reason    error
}

// New registers cmd for approval by q, consuming nonces from store. The
// lifecycle starts in StateProposed.
func New(cmd command.Command, q *quorum.Quorum, store challenge.NonceStore, opts ...Option) (*Lifecycle, error) {
	cfg := config{
		ctx:    context.Background(),
		clock:  time.Now,
		logger: logging.NewNop(),
		policy: DefaultRejectionPolicy,
		ttl:    challenge.DefaultTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cmd.IsZero() {
		return nil, fmt.Errorf("%w: empty command", command.ErrInvalidPayload)
	}
	if q == nil {
		return nil, fmt.Errorf("%w: nil quorum", quorum.ErrNotFound)
	}
	if store == nil {
		return nil, errors.New("lifecycle: nil nonce store")
	}
	if cmd.Context().QuorumID != q.ID() {
		return nil, fmt.Errorf("%w: command targets %q, quorum is %q", challenge.ErrQuorumMismatch, cmd.Context().QuorumID, q.ID())
	}

	id := correlation.GetAttemptID(cfg.ctx)
	if id == "" {
		id = correlation.NewID()
	}
	ctx := correlation.WithAttemptID(cfg.ctx, id)
	logger := logging.FromContext(ctx, cfg.logger).With(
		logging.String("quorum_id", q.ID()),
		logging.Stringer("kind", cmd.Kind()))

	if cfg.request != nil {
		start := time.Now()
		err := challenge.VerifyRequest(*cfg.request, cmd, q, append([]challenge.RequestOption{challenge.WithRequestClock(cfg.clock)}, cfg.requestOpts...)...)
		metrics.RecordOperation(metrics.OpVerifyRequest, metrics.Status(err), time.Since(start).Seconds())
		if err != nil {
			sev := Classify(err)
			metrics.RecordError(metrics.OpVerifyRequest, sev.String())
			logger.Warn("proposal refused",
				logging.String("signer", cfg.request.Signer.Short()),
				logging.Stringer("severity", sev),
				logging.Error(err))
			return nil, err
		}
	}

	l := &Lifecycle{
		id:      id,
		ctx:     ctx,
		cmd:     cmd,
		quorum:  q,
		nonces:  store,
		cfg:     cfg,
		logger:  logger,
		state:   StateProposed,
		signers: make(map[identity.PublicKey]struct{}),
	}

	metrics.LifecycleStarted()
	metrics.RecordTransition(cmd.Kind().String(), StateProposed.String())
	logger.Info("command proposed", logging.Int("threshold", q.Threshold()), logging.Int("members", q.Size()))
	return l, nil
}

// ID returns the attempt identifier.
func (l *Lifecycle) ID() string {
	return l.id
}

// Context returns the lifecycle context carrying the attempt ID.
func (l *Lifecycle) Context() context.Context {
	return l.ctx
}

// Command returns the command under approval.
func (l *Lifecycle) Command() command.Command {
	return l.cmd
}

// Quorum returns the quorum the command is bound to.
func (l *Lifecycle) Quorum() *quorum.Quorum {
	return l.quorum
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Challenge returns the issued challenge, if any.
func (l *Lifecycle) Challenge() (challenge.Challenge, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.challenge, l.state != StateProposed && l.challenge.Validate() == nil
}

// Pending returns the number of approvals accepted so far.
func (l *Lifecycle) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Authorization returns the result of a successful lifecycle.
func (l *Lifecycle) Authorization() (*Authorization, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.auth, l.auth != nil
}

// Err returns why the lifecycle was rejected or expired.
func (l *Lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

// IssueChallenge builds the challenge and moves to StateChallengeIssued.
func (l *Lifecycle) IssueChallenge() (challenge.Challenge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.guard(StateProposed, StateChallengeIssued); err != nil {
		return challenge.Challenge{}, err
	}

	opts := []challenge.BuildOption{
		challenge.WithBuildClock(l.cfg.clock),
		challenge.WithTTL(l.cfg.ttl),
	}
	if l.cfg.nonceSize != 0 {
		opts = append(opts, challenge.WithNonceSize(l.cfg.nonceSize))
	}
	if l.cfg.random != nil {
		opts = append(opts, challenge.WithRandom(l.cfg.random))
	}

	start := time.Now()
	c, err := challenge.Build(l.cmd, l.quorum, opts...)
	metrics.RecordOperation(metrics.OpBuildChallenge, metrics.Status(err), time.Since(start).Seconds())
	if err != nil {
		return challenge.Challenge{}, err
	}

	l.challenge = c
	l.transition(StateChallengeIssued,
		logging.String("nonce", c.NonceHex()),
		logging.String("expires_at", c.ExpiresAt().UTC().Format(time.RFC3339)))
	return c, nil
}

// Open starts accepting approvals.
func (l *Lifecycle) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.guard(StateChallengeIssued, StateCollectingApprovals); err != nil {
		return err
	}
	l.transition(StateCollectingApprovals)
	return nil
}

// Submit checks one approval and adds it to the pending set. Once the
// pending set reaches the quorum threshold it is tallied; the returned
// Authorization is non-nil only on that success.
//
// A failed approval is refused with its error and collection continues,
// unless the RejectionPolicy rejects it, which ends the lifecycle in
// StateRejected. A replayed or expired challenge ends it in StateExpired.
func (l *Lifecycle) Submit(a challenge.Approval) (*Authorization, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.guard(StateCollectingApprovals, StateCollectingApprovals); err != nil {
		return nil, err
	}

	if _, dup := l.signers[a.Signer]; dup {
		err := &challenge.ApprovalError{Index: len(l.pending), Signer: a.Signer, Err: challenge.ErrDuplicateApproval}
		l.refuse(metrics.OpCollect, Failure{Approval: a, Err: err})
		return nil, err
	}

	if err := challenge.CheckApproval(l.challenge, a, l.quorum, l.nonces, challenge.WithClock(l.cfg.clock)); err != nil {
		f := Failure{Approval: a, Err: err}
		if errors.Is(err, challenge.ErrUnauthorizedSigner) && a.Verify(l.challenge) == nil {
			f.SignedByNonMember = true
		}
		if errors.Is(err, challenge.ErrReplayOrExpired) {
			l.refuse(metrics.OpCollect, f)
			l.expire(err)
			return nil, err
		}
		if l.refuse(metrics.OpCollect, f) {
			l.reject(err)
		}
		return nil, err
	}

	l.pending = append(l.pending, a)
	l.signers[a.Signer] = struct{}{}
	metrics.RecordApproval(metrics.ResultAccepted)
	l.logger.Debug("approval accepted",
		logging.String("signer", a.Signer.Short()),
		logging.Int("pending", len(l.pending)),
		logging.Int("threshold", l.quorum.Threshold()))

	return l.tryAuthorize()
}

// SubmitRotationProof records the new key's proof for an identity
// rotation. Authorization waits for both the proof and the threshold.
func (l *Lifecycle) SubmitRotationProof(p challenge.RotationProof) (*Authorization, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd.Kind() != command.KindIdentityRotation {
		return nil, fmt.Errorf("%w: %s", ErrNotRotation, l.cmd.Kind())
	}
	if err := l.guard(StateCollectingApprovals, StateCollectingApprovals); err != nil {
		return nil, err
	}

	if err := challenge.VerifyRotationProof(l.challenge, l.cmd, p); err != nil {
		if l.refuse(metrics.OpCollect, Failure{Err: err}) {
			l.reject(err)
		}
		return nil, err
	}

	l.rotation = &p
	l.logger.Debug("rotation proof accepted", logging.String("new_key", p.Key.Short()))
	return l.tryAuthorize()
}

// Expire ends the attempt in StateExpired. Callers use it when they stop
// waiting for approvals.
func (l *Lifecycle) Expire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.guard(l.state, StateExpired); err != nil {
		return err
	}
	l.expire(ErrExpired)
	return nil
}

// Reject ends the attempt in StateRejected. A nil reason records
// ErrRejected.
func (l *Lifecycle) Reject(reason error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.guard(l.state, StateRejected); err != nil {
		return err
	}
	if reason == nil {
		reason = ErrRejected
	}
	l.reject(reason)
	return nil
}

// tryAuthorize tallies once the threshold and any rotation proof are in.
// Caller holds mu.
func (l *Lifecycle) tryAuthorize() (*Authorization, error) {
	if len(l.pending) < l.quorum.Threshold() {
		return nil, nil
	}
	if l.cmd.Kind() == command.KindIdentityRotation && l.rotation == nil {
		l.logger.Debug("threshold met, awaiting rotation proof")
		return nil, nil
	}

	start := time.Now()
	qa, err := challenge.VerifyAndTally(l.challenge, l.pending, l.quorum, l.nonces, challenge.WithClock(l.cfg.clock))
	metrics.RecordOperation(metrics.OpTally, metrics.Status(err), time.Since(start).Seconds())
	if err != nil {
		f := Failure{Err: err}
		if errors.Is(err, challenge.ErrReplayOrExpired) {
			l.refuse(metrics.OpTally, f)
			l.expire(err)
			return nil, err
		}
		if l.refuse(metrics.OpTally, f) {
			l.reject(err)
		}
		return nil, err
	}

	l.auth = &Authorization{
		AttemptID:      l.id,
		Command:        l.cmd,
		QuorumApproval: qa,
		RotationProof:  l.rotation,
		AuthorizedAt:   l.cfg.clock(),
	}
	l.transition(StateAuthorized, logging.Int("approvals", qa.Len()))
	return l.auth, nil
}

// refuse logs and counts a failure and reports whether policy rejects it.
func (l *Lifecycle) refuse(op string, f Failure) bool {
	sev := f.Severity()
	metrics.RecordApproval(metrics.ResultRefused)
	metrics.RecordError(op, sev.String())

	fields := []logging.Field{
		logging.Stringer("severity", sev),
		logging.Bool("signed_by_non_member", f.SignedByNonMember),
		logging.Error(f.Err),
	}
	if !f.Approval.Signer.IsZero() {
		fields = append(fields, logging.String("signer", f.Approval.Signer.Short()))
	}
	if sev == SeverityAdversarial {
		l.logger.Warn("approval refused", fields...)
	} else {
		l.logger.Info("approval refused", fields...)
	}
	return l.cfg.policy(f)
}

func (l *Lifecycle) guard(expected, next State) error {
	if l.state.IsTerminal() {
		return l.terminalError()
	}
	if l.state != expected || (next != l.state && !canTransition(l.state, next)) {
		return &TransitionError{From: l.state, To: next}
	}
	return nil
}

// terminalError reports a closed lifecycle. Once authorized or expired the
// challenge nonce is spent or stale, so late approvals also match
// challenge.ErrReplayOrExpired.
func (l *Lifecycle) terminalError() error {
	switch l.state {
	case StateAuthorized, StateExpired:
		return fmt.Errorf("%w: %s: %w", ErrTerminal, l.state, challenge.ErrReplayOrExpired)
	}
	return fmt.Errorf("%w: %s", ErrTerminal, l.state)
}

func (l *Lifecycle) expire(reason error) {
	l.reason = reason
	l.transition(StateExpired, logging.Error(reason))
}

func (l *Lifecycle) reject(reason error) {
	l.reason = reason
	l.transition(StateRejected, logging.Error(reason))
}

func (l *Lifecycle) transition(to State, fields ...logging.Field) {
	from := l.state
	l.state = to
	if to.IsTerminal() {
		l.pending = nil
		metrics.LifecycleFinished()
	}
	metrics.RecordTransition(l.cmd.Kind().String(), to.String())
	l.logger.Info("lifecycle transition", append([]logging.Field{
		logging.Stringer("from", from),
		logging.Stringer("to", to),
	}, fields...)...)
}
