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
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-quorumshare/pkg/command"
	"github.com/jeremyhahn/go-quorumshare/pkg/logging"
)

// commandFlags are shared by every command builder.
type commandFlags struct {
	quorumID string
	shareID  string
	outFile  string
}

func (f *commandFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.quorumID, "quorum", "q", "", "target quorum id")
	cmd.Flags().StringVarP(&f.shareID, "share", "s", "", "target share id")
	cmd.Flags().StringVarP(&f.outFile, "file", "f", "", "write the encoded command to this file")
	_ = cmd.MarkFlagRequired("quorum")
	_ = cmd.MarkFlagRequired("file")
}

func (a *app) commandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "command",
		Short: "Build commands that require quorum approval",
	}

	var digest, params string
	signing := a.commandBuilder("signing", "Authorize signing a 32-byte digest",
		func(ctx command.Context) (command.Command, error) {
			d, err := hex.DecodeString(digest)
			if err != nil {
				return command.Command{}, fmt.Errorf("invalid --digest: %w", err)
			}
			return command.NewSigning(ctx, d)
		})
	signing.Flags().StringVar(&digest, "digest", "", "hex message digest")
	_ = signing.MarkFlagRequired("digest")

	keygen := a.commandBuilder("keygen", "Authorize a key generation round",
		func(ctx command.Context) (command.Command, error) {
			p, err := decodeOptionalHex(params)
			if err != nil {
				return command.Command{}, err
			}
			return command.NewKeyGeneration(ctx, p)
		})
	keygen.Flags().StringVar(&params, "params", "", "hex engine parameters")

	refresh := a.commandBuilder("refresh", "Authorize a key refresh round",
		func(ctx command.Context) (command.Command, error) {
			p, err := decodeOptionalHex(params)
			if err != nil {
				return command.Command{}, err
			}
			return command.NewKeyRefresh(ctx, p)
		})
	refresh.Flags().StringVar(&params, "params", "", "hex engine parameters")

	var (
		member    string
		threshold uint
	)
	addMember := a.commandBuilder("add-member", "Authorize adding a member",
		func(ctx command.Context) (command.Command, error) {
			sub, err := a.parseMember(member)
			if err != nil {
				return command.Command{}, err
			}
			return command.NewMemberAddition(ctx, sub, threshold)
		})
	addMember.Flags().StringVarP(&member, "member", "m", "", "member as <identity> or <label>=<key|identity>")
	addMember.Flags().UintVarP(&threshold, "threshold", "t", 0, "new threshold (default unchanged)")
	_ = addMember.MarkFlagRequired("member")

	var key string
	removeMember := a.commandBuilder("remove-member", "Authorize removing a member",
		func(ctx command.Context) (command.Command, error) {
			k, err := a.resolveKey(key)
			if err != nil {
				return command.Command{}, err
			}
			return command.NewMemberRemoval(ctx, k, threshold)
		})
	removeMember.Flags().StringVar(&key, "key", "", "member key or local identity name")
	removeMember.Flags().UintVarP(&threshold, "threshold", "t", 0, "new threshold (default unchanged, clamped)")
	_ = removeMember.MarkFlagRequired("key")

	var oldKey, newKey string
	rotate := a.commandBuilder("rotate", "Authorize replacing a member's key",
		func(ctx command.Context) (command.Command, error) {
			o, err := a.resolveKey(oldKey)
			if err != nil {
				return command.Command{}, err
			}
			n, err := a.resolveKey(newKey)
			if err != nil {
				return command.Command{}, err
			}
			return command.NewIdentityRotation(ctx, o, n)
		})
	rotate.Flags().StringVar(&oldKey, "old", "", "current key or local identity name")
	rotate.Flags().StringVar(&newKey, "new", "", "replacement key or local identity name")
	_ = rotate.MarkFlagRequired("old")
	_ = rotate.MarkFlagRequired("new")

	var peer string
	backupCmd := a.commandBuilder("backup", "Authorize backing a share up to a device",
		func(ctx command.Context) (command.Command, error) {
			k, err := a.resolveKey(peer)
			if err != nil {
				return command.Command{}, err
			}
			return command.NewShareBackup(ctx, k)
		})
	backupCmd.Flags().StringVar(&peer, "recipient", "", "recipient key or local identity name")
	_ = backupCmd.MarkFlagRequired("recipient")

	recoverCmd := a.commandBuilder("recover", "Authorize recovering a share onto a device",
		func(ctx command.Context) (command.Command, error) {
			k, err := a.resolveKey(peer)
			if err != nil {
				return command.Command{}, err
			}
			return command.NewShareRecovery(ctx, k)
		})
	recoverCmd.Flags().StringVar(&peer, "device", "", "device key or local identity name")
	_ = recoverCmd.MarkFlagRequired("device")

	show := &cobra.Command{
		Use:   "show <file>",
		Short: "Decode and print a command file",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(_ *cobra.Command, args []string) error {
			var c command.Command
			if err := readBinary(args[0], &c); err != nil {
				return err
			}
			return a.printCommand(c)
		}),
	}

	cmd.AddCommand(signing, keygen, refresh, addMember, removeMember, rotate, backupCmd, recoverCmd, show)
	return cmd
}

// commandBuilder returns a subcommand that builds a command with build and
// writes it to the file flag.
func (a *app) commandBuilder(use, short string, build func(command.Context) (command.Command, error)) *cobra.Command {
	var flags commandFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: a.run(func(*cobra.Command, []string) error {
			ctx, err := command.NewContext(flags.quorumID, flags.shareID)
			if err != nil {
				return err
			}
			c, err := build(ctx)
			if err != nil {
				return err
			}
			if err := writeBinary(flags.outFile, c); err != nil {
				return err
			}
			a.logger.Debug("command written",
				logging.Stringer("command", c),
				logging.String("file", flags.outFile))
			return a.printCommand(c)
		}),
	}
	flags.register(cmd)
	return cmd
}

func (a *app) printCommand(c command.Command) error {
	digest, err := c.Digest()
	if err != nil {
		return err
	}
	fields := []Field{
		{"kind", c.Kind().String()},
		{"quorum_id", c.Context().QuorumID},
		{"share_id", c.Context().ShareID},
		{"digest", digest.Hex()},
	}
	switch c.Kind() {
	case command.KindSigning:
		d, _ := c.SigningDigest()
		fields = append(fields, Field{"message_digest", hex.EncodeToString(d)})
	case command.KindMemberAddition:
		p, err := c.MemberAddition()
		if err != nil {
			return err
		}
		fields = append(fields, Field{"member", p.Member.String()}, Field{"threshold", p.Threshold})
	case command.KindMemberRemoval:
		p, err := c.MemberRemoval()
		if err != nil {
			return err
		}
		fields = append(fields, Field{"member", p.Key.Hex()}, Field{"threshold", p.Threshold})
	case command.KindIdentityRotation:
		p, err := c.IdentityRotation()
		if err != nil {
			return err
		}
		fields = append(fields, Field{"old", p.Old.Hex()}, Field{"new", p.New.Hex()})
	case command.KindShareBackup, command.KindShareRecovery:
		p, err := c.ShareTransfer()
		if err != nil {
			return err
		}
		fields = append(fields, Field{"peer", p.Peer.Hex()})
	default:
		if len(c.Payload()) > 0 {
			fields = append(fields, Field{"params", hex.EncodeToString(c.Payload())})
		}
	}
	return a.printer().PrintFields("Command", fields...)
}

func decodeOptionalHex(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid --params: %w", err)
	}
	return b, nil
}
