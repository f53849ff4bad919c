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
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-quorumshare/pkg/audit"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
	"github.com/jeremyhahn/go-quorumshare/pkg/logging"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage"
)

func (a *app) identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage local sub-identities",
	}

	var digest string
	generate := &cobra.Command{
		Use:   "generate <name>",
		Short: "Generate and store a new secp256k1 identity",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(_ *cobra.Command, args []string) error {
			alg, err := hash.ParseAlgorithm(digest)
			if err != nil {
				return err
			}
			p, err := identity.NewSoftwareProvider(identity.WithDigest(alg))
			if err != nil {
				return err
			}
			defer p.Destroy()

			if err := a.saveIdentity(args[0], p); err != nil {
				return err
			}
			a.record(&audit.Event{
				Type:    audit.EventIdentityGenerate,
				Actor:   p.PublicKey().Hex(),
				Subject: args[0],
			}, nil)
			a.logger.Info("identity generated",
				logging.String("name", args[0]),
				logging.String("public_key", p.PublicKey().Short()))
			return a.printIdentity(args[0], p)
		}),
	}
	generate.Flags().StringVar(&digest, "digest", "sha-256", "signing digest (sha-256, keccak-256)")

	show := &cobra.Command{
		Use:   "show <name>",
		Short: "Show the public key of a stored identity",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(_ *cobra.Command, args []string) error {
			p, err := a.loadIdentity(args[0])
			if err != nil {
				return err
			}
			defer p.Destroy()
			return a.printIdentity(args[0], p)
		}),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored identities",
		Args:  cobra.NoArgs,
		RunE: a.run(func(*cobra.Command, []string) error {
			names, err := storage.ListIdentities(a.backend)
			if err != nil {
				return err
			}
			return a.printer().PrintList("Identities", "identities", names)
		}),
	}

	cmd.AddCommand(generate, show, list)
	return cmd
}

func (a *app) printIdentity(name string, p *identity.SoftwareProvider) error {
	return a.printer().PrintFields("Identity",
		Field{"name", name},
		Field{"public_key", p.PublicKey().Hex()},
		Field{"digest", p.Digest().String()})
}
