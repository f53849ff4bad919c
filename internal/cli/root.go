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

// Package cli implements quorumctl, the operator tool for quorum-approved
// share operations.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-quorumshare/internal/config"
	"github.com/jeremyhahn/go-quorumshare/pkg/audit"
	"github.com/jeremyhahn/go-quorumshare/pkg/challenge"
	"github.com/jeremyhahn/go-quorumshare/pkg/correlation"
	"github.com/jeremyhahn/go-quorumshare/pkg/lifecycle"
	"github.com/jeremyhahn/go-quorumshare/pkg/logging"
	"github.com/jeremyhahn/go-quorumshare/pkg/metrics"
	"github.com/jeremyhahn/go-quorumshare/pkg/quorum"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage/file"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage/memory"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	v      *viper.Viper
	out    io.Writer
	errOut io.Writer
	clock  challenge.Clock

	ctx     context.Context
	cfg     *config.Config
	backend storage.Backend
	logger  logging.Logger
	audit   *audit.Log
}

// Execute runs quorumctl with the process arguments.
func Execute() error {
	root := NewRootCommand(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		format := string(OutputFormatText)
		if f := root.PersistentFlags().Lookup("output"); f != nil {
			format = f.Value.String()
		}
		_ = NewPrinter(format, os.Stderr).PrintError(err)
		return err
	}
	return nil
}

// NewRootCommand builds the command tree writing to out and errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{
		v:      viper.New(),
		out:    out,
		errOut: errOut,
		clock:  time.Now,
		ctx:    context.Background(),
	}

	root := &cobra.Command{
		Use:   "quorumctl",
		Short: "Quorum-approved threshold share operations",
		Long: `quorumctl manages the identities and quorums that authorize operations
on a threshold-signing share, runs the challenge/approval protocol and
backs shares up between devices of the same identity.

Typical flow:
  quorumctl identity generate laptop
  quorumctl quorum create wallet --member laptop --member phone=02... --threshold 2
  quorumctl command signing --quorum wallet --share share-0 --digest <hex> -f cmd.cbor
  quorumctl challenge build -c cmd.cbor -f challenge.cbor
  quorumctl approve --identity laptop --challenge challenge.cbor -f laptop.approval
  quorumctl tally -c cmd.cbor --challenge challenge.cbor -a laptop.approval -a phone.approval`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.configure(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (YAML)")
	flags.String("data-dir", "", "storage directory for file storage")
	flags.String("storage", "", "storage backend (memory, file)")
	flags.StringP("output", "o", "text", "output format (text, json)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.BoolP("verbose", "v", false, "shorthand for --log-level debug")

	a.v.SetEnvPrefix(strings.TrimSuffix(config.EnvPrefix, "_"))
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	_ = a.v.BindPFlags(flags)

	root.AddCommand(
		a.versionCmd(),
		a.identityCmd(),
		a.quorumCmd(),
		a.commandCmd(),
		a.requestCmd(),
		a.challengeCmd(),
		a.approveCmd(),
		a.rotationProofCmd(),
		a.tallyCmd(),
		a.noncesCmd(),
		a.backupCmd(),
		a.recoverCmd(),
		a.doctorCmd(),
		a.auditCmd(),
	)
	return root
}

// configure loads configuration, applies flag and environment overrides,
// then opens storage and the logger.
func (a *app) configure(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		a.cfg = config.Default()
		return nil
	}

	var (
		cfg *config.Config
		err error
	)
	if path := a.v.GetString("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return err
	}

	if a.v.IsSet("data-dir") {
		cfg.Storage.Path = a.v.GetString("data-dir")
		if !a.v.IsSet("storage") {
			cfg.Storage.Backend = config.StorageFile
		}
	}
	if a.v.IsSet("storage") {
		cfg.Storage.Backend = a.v.GetString("storage")
	}
	if a.v.IsSet("log-level") {
		cfg.Logging.Level = a.v.GetString("log-level")
	}
	if a.v.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}
	if a.v.IsSet("log-format") {
		cfg.Logging.Format = a.v.GetString("log-format")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	id := correlation.NewID()
	a.ctx = correlation.WithCorrelationID(cmd.Context(), id)
	cmd.SetContext(a.ctx)
	a.logger = logging.New(a.errOut, cfg.LogLevel(), cfg.Logging.Format).
		With(logging.String("correlation_id", id))
	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	switch cfg.Storage.Backend {
	case config.StorageMemory:
		a.backend = memory.New()
	default:
		fs, err := file.New(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		a.backend = fs
	}
	a.audit = audit.NewLog(a.backend, audit.WithClock(a.clock))
	a.logger.Debug("storage opened",
		logging.String("backend", cfg.Storage.Backend),
		logging.String("path", cfg.Storage.Path))
	return nil
}

// run wraps a subcommand so storage is closed and metrics are flushed
// whether or not it succeeds.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if cerr := a.close(); err == nil {
				err = cerr
			}
		}()
		return fn(cmd, args)
	}
}

func (a *app) close() error {
	var err error
	if a.cfg != nil && a.cfg.Metrics.Enabled {
		err = metrics.WriteTextfile(a.cfg.Metrics.Textfile)
	}
	if a.backend != nil {
		if cerr := a.backend.Close(); err == nil {
			err = cerr
		}
		a.backend = nil
	}
	return err
}

// record appends e to the audit trail with the outcome of err. A failure
// to record is logged and does not fail the operation.
func (a *app) record(e *audit.Event, err error) {
	if err == nil {
		e.Outcome = audit.OutcomeSuccess
	} else {
		sev := severityOf(err)
		e.Outcome = audit.OutcomeFailure
		if sev != lifecycle.SeverityUnknown {
			e.Outcome = audit.OutcomeDenied
		}
		e.Severity = sev.String()
		e.Result = err.Error()
	}
	if rerr := a.audit.Record(a.ctx, e); rerr != nil {
		a.logger.Warn("audit record failed",
			logging.String("type", string(e.Type)),
			logging.Error(rerr))
	}
}

func (a *app) printer() *Printer {
	return NewPrinter(a.v.GetString("output"), a.out)
}

func (a *app) repository() *quorum.Repository {
	return quorum.NewRepository(a.backend)
}

func (a *app) nonceStore() *challenge.StorageNonceStore {
	return challenge.NewNonceStore(a.backend)
}
