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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-quorumshare/pkg/audit"
	"github.com/jeremyhahn/go-quorumshare/pkg/challenge"
	"github.com/jeremyhahn/go-quorumshare/pkg/command"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
	"github.com/jeremyhahn/go-quorumshare/pkg/logging"
	"github.com/jeremyhahn/go-quorumshare/pkg/metrics"
	"github.com/jeremyhahn/go-quorumshare/pkg/quorum"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage"
)

func (a *app) quorumCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quorum",
		Short: "Manage quorums",
	}

	var (
		members   []string
		threshold int
	)
	create := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a quorum at epoch 1",
		Long: `Create a quorum at epoch 1.

Each --member is either the name of a local identity, used as its label,
or label=<key>, where <key> is a hex public key or a local identity name.`,
		Args: cobra.ExactArgs(1),
		RunE: a.run(func(_ *cobra.Command, args []string) error {
			subs := make([]identity.SubIdentity, 0, len(members))
			for _, m := range members {
				sub, err := a.parseMember(m)
				if err != nil {
					return err
				}
				subs = append(subs, sub)
			}

			q, err := quorum.New(args[0], subs, threshold)
			if err != nil {
				return err
			}
			if _, err := a.repository().Latest(q.ID()); err == nil {
				return fmt.Errorf("quorum %q already exists", q.ID())
			}
			if err := a.repository().Save(q); err != nil {
				return err
			}
			a.record(&audit.Event{
				Type:     audit.EventQuorumCreate,
				QuorumID: q.ID(),
				Epoch:    q.Epoch(),
				Subject:  fmt.Sprintf("%d of %d", q.Threshold(), q.Size()),
			}, nil)
			a.logger.Info("quorum created",
				logging.String("quorum_id", q.ID()),
				logging.Int("threshold", q.Threshold()),
				logging.Int("members", q.Size()))
			return a.printer().PrintQuorum(q)
		}),
	}
	create.Flags().StringArrayVarP(&members, "member", "m", nil, "member as <identity> or <label>=<key|identity> (repeatable)")
	create.Flags().IntVarP(&threshold, "threshold", "t", 0, "approvals required")
	_ = create.MarkFlagRequired("member")
	_ = create.MarkFlagRequired("threshold")

	var epoch uint64
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show the latest or a given epoch of a quorum",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(_ *cobra.Command, args []string) error {
			q, err := a.quorumAt(args[0], epoch)
			if err != nil {
				return err
			}
			return a.printer().PrintQuorum(q)
		}),
	}
	show.Flags().Uint64Var(&epoch, "epoch", 0, "epoch to show (default latest)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List quorums",
		Args:  cobra.NoArgs,
		RunE: a.run(func(*cobra.Command, []string) error {
			ids, err := a.repository().List()
			if err != nil {
				return err
			}
			return a.printer().PrintList("Quorums", "quorums", ids)
		}),
	}

	history := &cobra.Command{
		Use:   "history <id>",
		Short: "List stored epochs of a quorum",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(_ *cobra.Command, args []string) error {
			epochs, err := a.repository().History(args[0])
			if err != nil {
				return err
			}
			items := make([]string, len(epochs))
			for i, e := range epochs {
				items[i] = strconv.FormatUint(e, 10)
			}
			return a.printer().PrintList("Epochs", "epochs", items)
		}),
	}

	var cmdFile, approvalFile, proofFile string
	apply := &cobra.Command{
		Use:   "apply",
		Short: "Apply an authorized membership change",
		Long: `Apply an authorized membership change to the latest epoch of its quorum.

The quorum approval produced by "tally" must bind the command to that
exact epoch. Identity rotations also need the new key's rotation proof.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(*cobra.Command, []string) error {
			start := time.Now()
			next, c, err := a.applyChange(cmdFile, approvalFile, proofFile)
			metrics.RecordOperation(metrics.OpApplyChange, metrics.Status(err), time.Since(start).Seconds())
			e := &audit.Event{
				Type:     audit.EventQuorumApply,
				QuorumID: c.Context().QuorumID,
				Subject:  c.String(),
			}
			if next != nil {
				e.Epoch = next.Epoch()
			}
			a.record(e, err)
			if err != nil {
				a.logRefusal(metrics.OpApplyChange, err)
				return err
			}
			a.logger.Info("membership change applied",
				logging.String("quorum_id", next.ID()),
				logging.Int64("epoch", int64(next.Epoch())))
			return a.printer().PrintQuorum(next)
		}),
	}
	apply.Flags().StringVarP(&cmdFile, "command", "c", "", "command file")
	apply.Flags().StringVar(&approvalFile, "approval", "", "quorum approval file from tally")
	apply.Flags().StringVar(&proofFile, "rotation-proof", "", "rotation proof file (identity rotation only)")
	_ = apply.MarkFlagRequired("command")
	_ = apply.MarkFlagRequired("approval")

	cmd.AddCommand(create, show, list, history, apply)
	return cmd
}

// applyChange returns the new quorum and the command it applied. The
// command is returned even on failure once it has been read.
func (a *app) applyChange(cmdFile, approvalFile, proofFile string) (*quorum.Quorum, command.Command, error) {
	var c command.Command
	if err := readBinary(cmdFile, &c); err != nil {
		return nil, c, err
	}
	var qa challenge.QuorumApproval
	if err := readBinary(approvalFile, &qa); err != nil {
		return nil, c, err
	}

	q, err := a.repository().Latest(c.Context().QuorumID)
	if err != nil {
		return nil, c, err
	}
	if !qa.Challenge.Binds(c, q) {
		return nil, c, fmt.Errorf("%w: approval does not bind this command to %s", challenge.ErrCommandMismatch, q)
	}
	if err := qa.Verify(q); err != nil {
		return nil, c, err
	}

	if c.Kind() == command.KindIdentityRotation {
		if proofFile == "" {
			return nil, c, fmt.Errorf("%w: --rotation-proof is required", challenge.ErrInvalidRotationProof)
		}
		var proof challenge.RotationProof
		if err := readBinary(proofFile, &proof); err != nil {
			return nil, c, err
		}
		if err := challenge.VerifyRotationProof(qa.Challenge, c, proof); err != nil {
			return nil, c, err
		}
	}

	next, err := q.ApplyMembershipChange(c)
	if err != nil {
		return nil, c, err
	}
	if err := a.repository().Save(next); err != nil {
		return nil, c, err
	}
	return next, c, nil
}

// quorumAt loads epoch of id, or the latest epoch when epoch is zero.
func (a *app) quorumAt(id string, epoch uint64) (*quorum.Quorum, error) {
	if epoch == 0 {
		return a.repository().Latest(id)
	}
	return a.repository().Get(id, epoch)
}

// parseMember accepts "<identity>" or "<label>=<key|identity>".
func (a *app) parseMember(s string) (identity.SubIdentity, error) {
	label, ref, ok := strings.Cut(s, "=")
	if !ok {
		ref = s
	}
	if label == "" || ref == "" {
		return identity.SubIdentity{}, fmt.Errorf("invalid member %q", s)
	}
	if err := storage.ValidateName(label); err != nil {
		return identity.SubIdentity{}, fmt.Errorf("invalid member label %q: %w", label, err)
	}
	key, err := a.resolveKey(ref)
	if err != nil {
		return identity.SubIdentity{}, err
	}
	return identity.NewSubIdentity(key, label)
}
