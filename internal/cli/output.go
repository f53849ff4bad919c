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
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jeremyhahn/go-quorumshare/pkg/quorum"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Field is one labelled value in command output.
type Field struct {
	Key   string
	Value any
}

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintFields prints an ordered set of values under a title
func (p *Printer) PrintFields(title string, fields ...Field) error {
	switch p.format {
	case OutputFormatJSON:
		m := make(map[string]any, len(fields))
		for _, f := range fields {
			m[f.Key] = f.Value
		}
		return p.printJSON(m)
	case OutputFormatText:
		if title != "" {
			fmt.Fprintf(p.writer, "%s:\n", title)
		}
		width := 0
		for _, f := range fields {
			width = max(width, len(f.Key))
		}
		for _, f := range fields {
			fmt.Fprintf(p.writer, "  %-*s  %v\n", width+1, f.Key+":", f.Value)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintList prints a list of names
func (p *Printer) PrintList(title string, key string, items []string) error {
	switch p.format {
	case OutputFormatJSON:
		if items == nil {
			items = []string{}
		}
		return p.printJSON(map[string]any{key: items})
	case OutputFormatText:
		if len(items) == 0 {
			fmt.Fprintf(p.writer, "No %s found\n", strings.ToLower(title))
			return nil
		}
		fmt.Fprintf(p.writer, "%s:\n", title)
		for _, item := range items {
			fmt.Fprintf(p.writer, "  - %s\n", item)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintQuorum prints a quorum snapshot
func (p *Printer) PrintQuorum(q *quorum.Quorum) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(q)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Quorum:    %s\n", q.ID())
		fmt.Fprintf(p.writer, "Epoch:     %d\n", q.Epoch())
		fmt.Fprintf(p.writer, "Threshold: %d of %d\n", q.Threshold(), q.Size())
		fmt.Fprintf(p.writer, "Digest:    %s\n", q.AggregateDigest().Hex())
		fmt.Fprintf(p.writer, "%-20s %s\n", "LABEL", "KEY")
		fmt.Fprintln(p.writer, strings.Repeat("-", 88))
		for _, m := range q.Members() {
			fmt.Fprintf(p.writer, "%-20s %s\n", m.Label, m.Key.Hex())
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data any) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
