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

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-quorumshare/pkg/health"
	"github.com/jeremyhahn/go-quorumshare/pkg/logging"
)

var errUnhealthy = errors.New("data directory is unhealthy")

func (a *app) doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check storage, quorums and identities for corruption",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			checker := health.NewChecker()
			checker.RegisterCheck("storage", health.StorageCheck(a.backend))
			checker.RegisterCheck("quorums", health.QuorumCheck(a.repository()))
			checker.RegisterCheck("identities", health.IdentityCheck(a.backend, func(name string) error {
				p, err := a.loadIdentity(name)
				if err != nil {
					return err
				}
				p.Destroy()
				return nil
			}))

			results := checker.Run(cmd.Context())
			status := health.AggregateStatus(results)
			for _, r := range results {
				if r.Status != health.StatusHealthy {
					a.logger.Warn("health check failed",
						logging.String("check", r.Name),
						logging.String("status", string(r.Status)),
						logging.String("error", r.Error))
				}
			}

			fields := make([]Field, 0, len(results)+1)
			fields = append(fields, Field{"status", string(status)})
			for _, r := range results {
				v := string(r.Status) + ": " + r.Message
				if r.Error != "" {
					v += " (" + r.Error + ")"
				}
				fields = append(fields, Field{r.Name, v})
			}
			if err := a.printer().PrintFields("Health", fields...); err != nil {
				return err
			}
			if status == health.StatusUnhealthy {
				return errUnhealthy
			}
			return nil
		}),
	}
}
