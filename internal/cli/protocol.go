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

package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-quorumshare/pkg/audit"
	"github.com/jeremyhahn/go-quorumshare/pkg/challenge"
	"github.com/jeremyhahn/go-quorumshare/pkg/command"
	"github.com/jeremyhahn/go-quorumshare/pkg/lifecycle"
	"github.com/jeremyhahn/go-quorumshare/pkg/logging"
	"github.com/jeremyhahn/go-quorumshare/pkg/metrics"
	"github.com/jeremyhahn/go-quorumshare/pkg/quorum"
)

func (a *app) requestOptions() []challenge.RequestOption {
	return []challenge.RequestOption{
		challenge.WithRequestClock(a.clock),
		challenge.WithRequestWindow(a.cfg.Protocol.RequestWindow),
		challenge.WithRequestSkew(a.cfg.Protocol.RequestSkew),
	}
}

func (a *app) requestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Sign or verify a member's command proposal",
	}

	var name, cmdFile, outFile string
	sign := &cobra.Command{
		Use:   "sign",
		Short: "Sign a command proposal with a local identity",
		Args:  cobra.NoArgs,
		RunE: a.run(func(*cobra.Command, []string) error {
			var c command.Command
			if err := readBinary(cmdFile, &c); err != nil {
				return err
			}
			p, err := a.loadIdentity(name)
			if err != nil {
				return err
			}
			defer p.Destroy()

			r, err := challenge.NewRequest(c, p, a.requestOptions()...)
			if err != nil {
				return err
			}
			if err := writeBinary(outFile, r); err != nil {
				return err
			}
			return a.printRequest(r)
		}),
	}
	sign.Flags().StringVar(&name, "identity", "", "local identity that proposes the command")
	sign.Flags().StringVarP(&cmdFile, "command", "c", "", "command file")
	sign.Flags().StringVarP(&outFile, "file", "f", "", "write the request to this file")
	for _, f := range []string{"identity", "command", "file"} {
		_ = sign.MarkFlagRequired(f)
	}

	var reqFile string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verify a signed request against the latest quorum",
		Args:  cobra.NoArgs,
		RunE: a.run(func(*cobra.Command, []string) error {
			start := time.Now()
			r, err := a.verifyRequest(cmdFile, reqFile)
			metrics.RecordOperation(metrics.OpVerifyRequest, metrics.Status(err), time.Since(start).Seconds())
			a.record(&audit.Event{Type: audit.EventRequestVerify, Actor: r.Signer.Hex(), Subject: r.CommandDigest.Hex()}, err)
			if err != nil {
				a.logRefusal(metrics.OpVerifyRequest, err)
				return err
			}
			return a.printRequest(r)
		}),
	}
	verify.Flags().StringVarP(&cmdFile, "command", "c", "", "command file")
	verify.Flags().StringVarP(&reqFile, "request", "r", "", "request file")
	_ = verify.MarkFlagRequired("command")
	_ = verify.MarkFlagRequired("request")

	cmd.AddCommand(sign, verify)
	return cmd
}

func (a *app) verifyRequest(cmdFile, reqFile string) (challenge.Request, error) {
	var c command.Command
	if err := readBinary(cmdFile, &c); err != nil {
		return challenge.Request{}, err
	}
	var r challenge.Request
	if err := readBinary(reqFile, &r); err != nil {
		return challenge.Request{}, err
	}
	q, err := a.repository().Latest(c.Context().QuorumID)
	if err != nil {
		return challenge.Request{}, err
	}
	return r, challenge.VerifyRequest(r, c, q, a.requestOptions()...)
}

func (a *app) printRequest(r challenge.Request) error {
	return a.printer().PrintFields("Request",
		Field{"signer", r.Signer.Hex()},
		Field{"command_digest", r.CommandDigest.Hex()},
		Field{"timestamp", time.UnixMilli(r.Timestamp).UTC().Format(time.RFC3339)})
}

func (a *app) challengeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "challenge",
		Short: "Issue and inspect approval challenges",
	}

	var cmdFile, reqFile, outFile string
	build := &cobra.Command{
		Use:   "build",
		Short: "Issue a challenge binding a command to the latest quorum",
		Args:  cobra.NoArgs,
		RunE: a.run(func(*cobra.Command, []string) error {
			start := time.Now()
			ch, err := a.buildChallenge(cmdFile, reqFile)
			metrics.RecordOperation(metrics.OpBuildChallenge, metrics.Status(err), time.Since(start).Seconds())
			a.record(&audit.Event{
				Type:      audit.EventChallengeIssue,
				QuorumID:  ch.QuorumID,
				Subject:   ch.CommandDigest.Hex(),
				Challenge: ch.NonceHex(),
			}, err)
			if err != nil {
				return err
			}
			if err := writeBinary(outFile, ch); err != nil {
				return err
			}
			a.logger.Info("challenge issued",
				logging.String("quorum_id", ch.QuorumID),
				logging.String("nonce", ch.NonceHex()),
				logging.String("expires_at", ch.ExpiresAt().UTC().Format(time.RFC3339)))
			return a.printChallenge(ch)
		}),
	}
	build.Flags().StringVarP(&cmdFile, "command", "c", "", "command file")
	build.Flags().StringVarP(&reqFile, "request", "r", "", "require this signed request from a member")
	build.Flags().StringVarP(&outFile, "file", "f", "", "write the challenge to this file")
	_ = build.MarkFlagRequired("command")
	_ = build.MarkFlagRequired("file")

	show := &cobra.Command{
		Use:   "show <file>",
		Short: "Decode and print a challenge file",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(_ *cobra.Command, args []string) error {
			var ch challenge.Challenge
			if err := readBinary(args[0], &ch); err != nil {
				return err
			}
			return a.printChallenge(ch)
		}),
	}

	cmd.AddCommand(build, show)
	return cmd
}

func (a *app) buildChallenge(cmdFile, reqFile string) (challenge.Challenge, error) {
	var c command.Command
	if err := readBinary(cmdFile, &c); err != nil {
		return challenge.Challenge{}, err
	}
	q, err := a.repository().Latest(c.Context().QuorumID)
	if err != nil {
		return challenge.Challenge{}, err
	}
	if reqFile != "" {
		var r challenge.Request
		if err := readBinary(reqFile, &r); err != nil {
			return challenge.Challenge{}, err
		}
		if err := challenge.VerifyRequest(r, c, q, a.requestOptions()...); err != nil {
			a.logRefusal(metrics.OpVerifyRequest, err)
			return challenge.Challenge{}, err
		}
	}
	return challenge.Build(c, q,
		challenge.WithTTL(a.cfg.Protocol.ChallengeTTL),
		challenge.WithNonceSize(a.cfg.Protocol.NonceSize),
		challenge.WithBuildClock(a.clock))
}

func (a *app) printChallenge(ch challenge.Challenge) error {
	return a.printer().PrintFields("Challenge",
		Field{"quorum_id", ch.QuorumID},
		Field{"quorum_digest", ch.QuorumDigest.Hex()},
		Field{"command_digest", ch.CommandDigest.Hex()},
		Field{"nonce", ch.NonceHex()},
		Field{"expires_at", ch.ExpiresAt().UTC().Format(time.RFC3339)},
		Field{"expired", ch.Expired(a.clock())})
}

func (a *app) approveCmd() *cobra.Command {
	var name, challengeFile, cmdFile, outFile string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Sign a challenge with a local identity",
		Long: `Sign a challenge with a local identity.

With --command the challenge is first checked to bind that command to the
latest stored epoch of its quorum, so the member knows what it approves.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(*cobra.Command, []string) error {
			var ch challenge.Challenge
			if err := readBinary(challengeFile, &ch); err != nil {
				return err
			}
			if cmdFile != "" {
				if err := a.checkBinding(ch, cmdFile); err != nil {
					return err
				}
			}
			p, err := a.loadIdentity(name)
			if err != nil {
				return err
			}
			defer p.Destroy()

			start := time.Now()
			approval, err := challenge.Collect(ch, p)
			metrics.RecordOperation(metrics.OpCollect, metrics.Status(err), time.Since(start).Seconds())
			if err != nil {
				return err
			}
			if err := writeBinary(outFile, approval); err != nil {
				return err
			}
			return a.printer().PrintFields("Approval",
				Field{"signer", approval.Signer.Hex()},
				Field{"nonce", ch.NonceHex()},
				Field{"file", outFile})
		}),
	}
	cmd.Flags().StringVar(&name, "identity", "", "local identity that approves")
	cmd.Flags().StringVar(&challengeFile, "challenge", "", "challenge file")
	cmd.Flags().StringVarP(&cmdFile, "command", "c", "", "command file the challenge must bind")
	cmd.Flags().StringVarP(&outFile, "file", "f", "", "write the approval to this file")
	for _, f := range []string{"identity", "challenge", "file"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func (a *app) checkBinding(ch challenge.Challenge, cmdFile string) error {
	var c command.Command
	if err := readBinary(cmdFile, &c); err != nil {
		return err
	}
	q, err := a.repository().Latest(c.Context().QuorumID)
	if err != nil {
		return err
	}
	if !ch.Binds(c, q) {
		return fmt.Errorf("%w: challenge does not bind %s to %s", challenge.ErrCommandMismatch, c, q)
	}
	return nil
}

func (a *app) rotationProofCmd() *cobra.Command {
	var name, challengeFile, outFile string
	cmd := &cobra.Command{
		Use:   "rotation-proof",
		Short: "Prove control of the incoming key of an identity rotation",
		Args:  cobra.NoArgs,
		RunE: a.run(func(*cobra.Command, []string) error {
			var ch challenge.Challenge
			if err := readBinary(challengeFile, &ch); err != nil {
				return err
			}
			p, err := a.loadIdentity(name)
			if err != nil {
				return err
			}
			defer p.Destroy()

			proof, err := challenge.ProveRotation(ch, p)
			if err != nil {
				return err
			}
			if err := writeBinary(outFile, proof); err != nil {
				return err
			}
			return a.printer().PrintFields("Rotation proof",
				Field{"key", proof.Key.Hex()},
				Field{"nonce", ch.NonceHex()},
				Field{"file", outFile})
		}),
	}
	cmd.Flags().StringVar(&name, "identity", "", "local identity holding the new key")
	cmd.Flags().StringVar(&challengeFile, "challenge", "", "challenge file")
	cmd.Flags().StringVarP(&outFile, "file", "f", "", "write the proof to this file")
	for _, f := range []string{"identity", "challenge", "file"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func (a *app) tallyCmd() *cobra.Command {
	var (
		cmdFile, challengeFile, outFile string
		approvalFiles                   []string
	)
	cmd := &cobra.Command{
		Use:   "tally",
		Short: "Verify approvals and consume the challenge",
		Long: `Verify approvals against the latest quorum and, once the threshold is
met, consume the challenge nonce so it can never authorize again.

Each failing approval is refused and logged with its severity. The
configured rejection policy decides whether a failure aborts the tally.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(*cobra.Command, []string) error {
			start := time.Now()
			qa, q, err := a.tally(cmdFile, challengeFile, approvalFiles)
			metrics.RecordOperation(metrics.OpTally, metrics.Status(err), time.Since(start).Seconds())
			e := &audit.Event{Type: audit.EventCommandAuthorize}
			if errors.Is(err, lifecycle.ErrRejected) {
				e.Type = audit.EventCommandReject
			}
			if q != nil {
				e.QuorumID = q.ID()
				e.Epoch = q.Epoch()
			}
			if qa != nil {
				e.Challenge = qa.Challenge.NonceHex()
			}
			a.record(e, err)
			if err != nil {
				a.logRefusal(metrics.OpTally, err)
				return err
			}
			if outFile != "" {
				if err := writeBinary(outFile, qa); err != nil {
					return err
				}
			}
			signers := make([]string, 0, qa.Len())
			for _, k := range qa.Signers() {
				signers = append(signers, k.Short())
			}
			a.logger.Info("command authorized",
				logging.String("quorum_id", q.ID()),
				logging.Int64("epoch", int64(q.Epoch())),
				logging.String("nonce", qa.Challenge.NonceHex()))
			return a.printer().PrintFields("Authorized",
				Field{"quorum_id", q.ID()},
				Field{"epoch", q.Epoch()},
				Field{"approvals", fmt.Sprintf("%d of %d", qa.Len(), q.Threshold())},
				Field{"signers", strings.Join(signers, ", ")})
		}),
	}
	cmd.Flags().StringVarP(&cmdFile, "command", "c", "", "command file")
	cmd.Flags().StringVar(&challengeFile, "challenge", "", "challenge file")
	cmd.Flags().StringArrayVarP(&approvalFiles, "approval", "a", nil, "approval file (repeatable)")
	cmd.Flags().StringVarP(&outFile, "file", "f", "", "write the quorum approval to this file")
	for _, f := range []string{"command", "challenge", "approval"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// tally screens each approval like a lifecycle does, then verifies the
// accepted set and consumes the nonce. The quorum is returned whenever it
// could be loaded.
func (a *app) tally(cmdFile, challengeFile string, approvalFiles []string) (*challenge.QuorumApproval, *quorum.Quorum, error) {
	var c command.Command
	if err := readBinary(cmdFile, &c); err != nil {
		return nil, nil, err
	}
	var ch challenge.Challenge
	if err := readBinary(challengeFile, &ch); err != nil {
		return nil, nil, err
	}
	q, err := a.repository().Latest(c.Context().QuorumID)
	if err != nil {
		return nil, nil, err
	}
	if !ch.Binds(c, q) {
		return nil, q, fmt.Errorf("%w: challenge does not bind %s to %s", challenge.ErrQuorumMismatch, c, q)
	}
	policy, err := lifecycle.PolicyByName(a.cfg.Protocol.RejectionPolicy)
	if err != nil {
		return nil, q, err
	}

	store := a.nonceStore()
	accepted := make([]challenge.Approval, 0, len(approvalFiles))
	seen := make(map[string]bool, len(approvalFiles))
	for _, path := range approvalFiles {
		var ap challenge.Approval
		if err := readBinary(path, &ap); err != nil {
			return nil, q, err
		}

		err := challenge.CheckApproval(ch, ap, q, store, challenge.WithClock(a.clock))
		if err == nil && seen[ap.Signer.Hex()] {
			err = &challenge.ApprovalError{Index: -1, Signer: ap.Signer, SignatureValid: true, Err: challenge.ErrDuplicateApproval}
		}
		if err == nil {
			seen[ap.Signer.Hex()] = true
			accepted = append(accepted, ap)
			metrics.RecordApproval(metrics.ResultAccepted)
			continue
		}

		f := lifecycle.Failure{
			Approval:          ap,
			Err:               err,
			SignedByNonMember: errors.Is(err, challenge.ErrUnauthorizedSigner) && ap.Verify(ch) == nil,
		}
		metrics.RecordApproval(metrics.ResultRefused)
		metrics.RecordError(metrics.OpCollect, f.Severity().String())
		a.record(&audit.Event{
			Type:      audit.EventApprovalRefuse,
			QuorumID:  q.ID(),
			Epoch:     q.Epoch(),
			Actor:     ap.Signer.Hex(),
			Challenge: ch.NonceHex(),
		}, &rejectedError{failure: f, refused: true})
		a.logger.Warn("approval refused",
			logging.String("file", path),
			logging.String("signer", ap.Signer.Short()),
			logging.String("severity", f.Severity().String()),
			logging.Error(err))

		switch {
		case errors.Is(err, challenge.ErrReplayOrExpired):
			return nil, q, err
		case policy(f):
			return nil, q, &rejectedError{failure: f}
		}
	}

	qa, err := challenge.VerifyAndTally(ch, accepted, q, store, challenge.WithClock(a.clock))
	if err != nil {
		return nil, q, err
	}
	return qa, q, nil
}

func (a *app) noncesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nonces",
		Short: "Maintain the consumed-nonce store",
	}

	var quorumID string
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Drop consumed nonces whose challenges have expired",
		Args:  cobra.NoArgs,
		RunE: a.run(func(*cobra.Command, []string) error {
			n, err := a.nonceStore().Prune(quorumID, a.clock())
			if err != nil {
				return err
			}
			metrics.RecordNoncesPruned(n)
			a.logger.Info("nonces pruned",
				logging.String("quorum_id", quorumID),
				logging.Int("count", n))
			return a.printer().PrintFields("Pruned",
				Field{"quorum_id", quorumID},
				Field{"count", n})
		}),
	}
	prune.Flags().StringVarP(&quorumID, "quorum", "q", "", "quorum whose nonces to prune")
	_ = prune.MarkFlagRequired("quorum")

	cmd.AddCommand(prune)
	return cmd
}

// rejectedError carries the approval failure that refused an approval or,
// under the rejection policy, ended the tally.
type rejectedError struct {
	failure lifecycle.Failure
	refused bool
}

func (e *rejectedError) Error() string {
	if e.refused {
		return e.failure.Err.Error()
	}
	return fmt.Sprintf("%v: %v", lifecycle.ErrRejected, e.failure.Err)
}

func (e *rejectedError) Unwrap() []error {
	if e.refused {
		return []error{e.failure.Err}
	}
	return []error{lifecycle.ErrRejected, e.failure.Err}
}

// severityOf classifies err, honouring the non-member signal of an
// approval failure.
func severityOf(err error) lifecycle.Severity {
	var rejected *rejectedError
	if errors.As(err, &rejected) {
		return rejected.failure.Severity()
	}
	return lifecycle.Classify(err)
}

// logRefusal logs a protocol failure at a level matching its severity.
func (a *app) logRefusal(op string, err error) {
	sev := severityOf(err)
	metrics.RecordError(op, sev.String())
	fields := []logging.Field{
		logging.String("operation", op),
		logging.String("severity", sev.String()),
		logging.Error(err),
	}
	if sev == lifecycle.SeverityAdversarial {
		a.logger.Warn("refused", fields...)
		return
	}
	a.logger.Info("refused", fields...)
}
