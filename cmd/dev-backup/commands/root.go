// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the dev-backup command tree.
package commands

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/devbackup/cmd/dev-backup/cli"
	"github.com/bureau-foundation/devbackup/lib/config"
	"github.com/bureau-foundation/devbackup/lib/engine"
	"github.com/bureau-foundation/devbackup/lib/fault"
)

type globalParams struct {
	ConfigPath string `flag:"config,c" desc:"configuration file (default $DEV_BACKUP_CONFIG, then /etc/dev-backup/config.yaml)"`
	Verbose    bool   `flag:"verbose,v" desc:"log at debug level"`
}

// app carries state shared by every command in one invocation.
type app struct {
	globals globalParams
	stdout  io.Writer
	logger  func(verbose bool) *slog.Logger
}

// Root returns the dev-backup command tree writing to the process's
// stdout.
func Root() *cli.Command {
	return newApp(os.Stdout, cli.NewCommandLogger).root()
}

func newApp(stdout io.Writer, logger func(verbose bool) *slog.Logger) *app {
	return &app{stdout: stdout, logger: logger}
}

func (a *app) root() *cli.Command {
	return &cli.Command{
		Name:    "dev-backup",
		Summary: "Monthly btrfs snapshot backups with encrypted incremental artifacts",
		Description: `dev-backup snapshots a btrfs dataset once a month, exports each snapshot
as a zstd-compressed, age-encrypted send stream (a full anchor or an
incremental against the previous month), and records every artifact in a
TSV manifest on the storage host. Artifacts sync to an object store and
restore by replaying the chain from the nearest anchor.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("dev-backup", &a.globals)
		},
		Subcommands: []*cli.Command{
			a.initCommand(),
			a.snapshotCommand(),
			a.artifactCommand(),
			a.restoreCommand(),
			a.syncCommand(),
			a.wsCommand(),
			a.lsCommand(),
			a.manifestCommand(),
			a.verifyCommand(),
			a.pruneCommand(),
			a.versionCommand(),
		},
	}
}

// engine loads the configuration named by the global flags and returns
// an engine wired to it.
func (a *app) engine() (*engine.Engine, error) {
	logger := a.logger(a.globals.Verbose)
	var (
		cfg *config.Config
		err error
	)
	if a.globals.ConfigPath != "" {
		cfg, err = config.LoadFile(a.globals.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("loaded configuration", "path", cfg.Source())
	return engine.New(cfg, logger), nil
}

// signalContext is cancelled on SIGINT or SIGTERM, which kills any
// running pipeline stages.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// requireArgs checks the positional argument count.
func requireArgs(args []string, minimum, maximum int, usage string) error {
	if len(args) < minimum || len(args) > maximum {
		return fault.Validationf("usage: %s", usage)
	}
	return nil
}

func optionalArg(args []string, index int) string {
	if index < len(args) {
		return args[index]
	}
	return ""
}
