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
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-quorumshare/pkg/audit"
	"github.com/jeremyhahn/go-quorumshare/pkg/backup"
	"github.com/jeremyhahn/go-quorumshare/pkg/challenge"
	"github.com/jeremyhahn/go-quorumshare/pkg/command"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/secret"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
	"github.com/jeremyhahn/go-quorumshare/pkg/logging"
	"github.com/jeremyhahn/go-quorumshare/pkg/metrics"
	"github.com/jeremyhahn/go-quorumshare/pkg/quorum"
)

// transferFlags are shared by backup and recover.
type transferFlags struct {
	identity string
	peer     string
	quorumID string
	epoch    uint64
	shareID  string
	in       string
	out      string
}

func (f *transferFlags) register(cmd *cobra.Command, peer, peerUsage string) {
	cmd.Flags().StringVar(&f.identity, "identity", "", "local identity of this device")
	cmd.Flags().StringVar(&f.peer, peer, "", peerUsage)
	cmd.Flags().StringVarP(&f.quorumID, "quorum", "q", "", "quorum the share belongs to")
	cmd.Flags().Uint64Var(&f.epoch, "epoch", 0, "quorum epoch bound into the backup (default latest)")
	cmd.Flags().StringVarP(&f.shareID, "share", "s", "", "share id")
	cmd.Flags().StringVar(&f.in, "in", "", "input file")
	cmd.Flags().StringVar(&f.out, "out", "", "output file")
	for _, name := range []string{"identity", peer, "quorum", "share", "in", "out"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func (a *app) codec() (*backup.Codec, error) {
	suite, err := a.cfg.Suite()
	if err != nil {
		return nil, err
	}
	return backup.NewCodec(backup.WithSuite(suite), backup.WithLogger(a.logger)), nil
}

func (a *app) backupCmd() *cobra.Command {
	var (
		flags                 transferFlags
		cmdFile, approvalFile string
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Encrypt a share for another device of the same identity",
		Long: `Encrypt a share for another device of the same identity.

The envelope is bound to the recipient, the share id and the quorum epoch.
With --command and --approval the backup only proceeds when the quorum
authorized a share_backup of this share to this recipient.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(*cobra.Command, []string) error {
			start := time.Now()
			es, err := a.backupShare(flags, cmdFile, approvalFile)
			metrics.RecordOperation(metrics.OpBackup, metrics.Status(err), time.Since(start).Seconds())
			a.record(&audit.Event{
				Type:     audit.EventShareBackup,
				QuorumID: flags.quorumID,
				Epoch:    flags.epoch,
				Actor:    flags.identity,
				Subject:  flags.shareID + " -> " + flags.peer,
			}, err)
			if err != nil {
				a.logRefusal(metrics.OpBackup, err)
				return err
			}
			if err := writeBinary(flags.out, es); err != nil {
				return err
			}
			return a.printer().PrintFields("Backup",
				Field{"quorum_id", flags.quorumID},
				Field{"share_id", flags.shareID},
				Field{"recipient", flags.peer},
				Field{"suite", es.Suite.String()},
				Field{"file", flags.out})
		}),
	}
	flags.register(cmd, "recipient", "recipient key or local identity name")
	cmd.Flags().StringVarP(&cmdFile, "command", "c", "", "authorized share_backup command file")
	cmd.Flags().StringVar(&approvalFile, "approval", "", "quorum approval for --command")
	cmd.MarkFlagsRequiredTogether("command", "approval")
	return cmd
}

func (a *app) backupShare(flags transferFlags, cmdFile, approvalFile string) (*backup.EncryptedShare, error) {
	sender, err := a.loadIdentity(flags.identity)
	if err != nil {
		return nil, err
	}
	defer sender.Destroy()

	recipient, err := a.resolveKey(flags.peer)
	if err != nil {
		return nil, err
	}
	q, err := a.quorumAt(flags.quorumID, flags.epoch)
	if err != nil {
		return nil, err
	}
	if cmdFile != "" {
		if err := a.checkTransfer(cmdFile, approvalFile, command.KindShareBackup, recipient, q, flags.shareID); err != nil {
			return nil, err
		}
	}

	ctx, err := backup.NewContext(recipient, q, flags.shareID)
	if err != nil {
		return nil, err
	}
	codec, err := a.codec()
	if err != nil {
		return nil, err
	}

	// #nosec G304 - path is provided by the operator
	share, err := os.ReadFile(flags.in)
	if err != nil {
		return nil, err
	}
	defer secret.Wipe(share)

	return codec.Backup(share, sender, recipient, ctx)
}

// checkTransfer verifies that approvalFile authorizes the command in
// cmdFile and that the command is a transfer of shareID to peer.
func (a *app) checkTransfer(cmdFile, approvalFile string, kind command.Kind, peer identity.PublicKey, q *quorum.Quorum, shareID string) error {
	var c command.Command
	if err := readBinary(cmdFile, &c); err != nil {
		return err
	}
	var qa challenge.QuorumApproval
	if err := readBinary(approvalFile, &qa); err != nil {
		return err
	}
	if c.Kind() != kind {
		return fmt.Errorf("%w: %s is not a %s command", challenge.ErrCommandMismatch, c, kind)
	}
	t, err := c.ShareTransfer()
	if err != nil {
		return err
	}
	if t.Peer != peer || c.Context().ShareID != shareID {
		return fmt.Errorf("%w: %s does not name share %q for %s", challenge.ErrCommandMismatch, c, shareID, peer.Short())
	}
	if !qa.Challenge.Binds(c, q) {
		return fmt.Errorf("%w: approval does not bind %s to %s", challenge.ErrCommandMismatch, c, q)
	}
	return qa.Verify(q)
}

func (a *app) recoverCmd() *cobra.Command {
	var flags transferFlags
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Decrypt a share backed up to this device",
		Args:  cobra.NoArgs,
		RunE: a.run(func(*cobra.Command, []string) error {
			start := time.Now()
			err := a.recoverShare(flags)
			metrics.RecordOperation(metrics.OpRecover, metrics.Status(err), time.Since(start).Seconds())
			a.record(&audit.Event{
				Type:     audit.EventShareRecover,
				QuorumID: flags.quorumID,
				Epoch:    flags.epoch,
				Actor:    flags.identity,
				Subject:  flags.shareID + " <- " + flags.peer,
			}, err)
			if err != nil {
				a.logRefusal(metrics.OpRecover, err)
				return err
			}
			a.logger.Info("share recovered",
				logging.String("quorum_id", flags.quorumID),
				logging.String("share_id", flags.shareID))
			return a.printer().PrintFields("Recovered",
				Field{"quorum_id", flags.quorumID},
				Field{"share_id", flags.shareID},
				Field{"file", flags.out})
		}),
	}
	flags.register(cmd, "sender", "sending device key or local identity name")
	return cmd
}

func (a *app) recoverShare(flags transferFlags) error {
	recipient, err := a.loadIdentity(flags.identity)
	if err != nil {
		return err
	}
	defer recipient.Destroy()

	sender, err := a.resolveKey(flags.peer)
	if err != nil {
		return err
	}
	q, err := a.quorumAt(flags.quorumID, flags.epoch)
	if err != nil {
		return err
	}
	ctx, err := backup.NewContext(recipient.PublicKey(), q, flags.shareID)
	if err != nil {
		return err
	}

	var es backup.EncryptedShare
	if err := readBinary(flags.in, &es); err != nil {
		return err
	}
	codec, err := a.codec()
	if err != nil {
		return err
	}
	return codec.RecoverFunc(&es, recipient, sender, ctx, func(share []byte) error {
		return os.WriteFile(flags.out, share, 0600)
	})
}
