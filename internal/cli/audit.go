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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-quorumshare/pkg/audit"
)

func (a *app) auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail of authorization decisions",
	}

	var (
		quorumID string
		types    []string
		outcome  string
		since    time.Duration
		limit    int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List audit events, oldest first",
		Args:  cobra.NoArgs,
		RunE: a.run(func(*cobra.Command, []string) error {
			q := audit.Query{
				QuorumID: quorumID,
				Outcome:  audit.EventOutcome(outcome),
				Limit:    limit,
			}
			for _, t := range types {
				q.Types = append(q.Types, audit.EventType(t))
			}
			if since > 0 {
				q.Since = a.clock().Add(-since)
			}
			events, err := a.audit.Events(q)
			if err != nil {
				return err
			}
			return a.printer().PrintEvents(events)
		}),
	}
	list.Flags().StringVarP(&quorumID, "quorum", "q", "", "only events of this quorum")
	list.Flags().StringSliceVarP(&types, "type", "t", nil, "only these event types (e.g. command.authorize)")
	list.Flags().StringVar(&outcome, "outcome", "", "only this outcome (success, failure, denied)")
	list.Flags().DurationVar(&since, "since", 0, "only events newer than this duration")
	list.Flags().IntVarP(&limit, "limit", "n", 0, "only the most recent n events")

	cmd.AddCommand(list)
	return cmd
}

// PrintEvents prints audit events
func (p *Printer) PrintEvents(events []*audit.Event) error {
	switch p.format {
	case OutputFormatJSON:
		if events == nil {
			events = []*audit.Event{}
		}
		return p.printJSON(map[string]any{"events": events})
	case OutputFormatText:
		if len(events) == 0 {
			fmt.Fprintln(p.writer, "No audit events found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-24s %-18s %-8s %-11s %-12s %s\n", "TIME", "TYPE", "OUTCOME", "SEVERITY", "QUORUM", "DETAIL")
		fmt.Fprintln(p.writer, strings.Repeat("-", 100))
		for _, e := range events {
			detail := e.Subject
			if e.Result != "" {
				detail = e.Result
			}
			fmt.Fprintf(p.writer, "%-24s %-18s %-8s %-11s %-12s %s\n",
				e.Timestamp.Format("2006-01-02T15:04:05.000Z"),
				e.Type, e.Outcome, e.Severity, e.QuorumID, detail)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}
