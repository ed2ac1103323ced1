// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/devbackup/cmd/dev-backup/cli"
	"github.com/bureau-foundation/devbackup/lib/engine"
	"github.com/bureau-foundation/devbackup/lib/manifest"
)

func (a *app) snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:    "snapshot",
		Summary: "Take a read-only snapshot of the dataset",
		Usage:   "dev-backup snapshot <label>",
		Examples: []cli.Example{
			{Description: "Snapshot the dataset for March 2024", Command: "dev-backup snapshot 2024-03"},
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, 1, "dev-backup snapshot <label>"); err != nil {
				return err
			}
			backup, err := a.engine()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			path, created, err := backup.Snapshot(ctx, args[0])
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(a.stdout, "Created snapshot %s\n", path)
			} else {
				fmt.Fprintf(a.stdout, "Snapshot already exists: %s\n", path)
			}
			return nil
		},
	}
}

func (a *app) artifactCommand() *cli.Command {
	var buildParams struct {
		OutputDir string `flag:"output-dir,o" desc:"directory to write the artifact into" default:"."`
	}
	return &cli.Command{
		Name:    "artifact",
		Summary: "Build and register artifacts",
		Subcommands: []*cli.Command{
			{
				Name:        "build",
				Summary:     "Export a snapshot as an encrypted artifact",
				Description: "Run btrfs send | zstd | age for dev@<label>, incremental from [parent] when given, writing dev@<label>.full.send.zst.age or dev@<label>.incr.from_<parent>.send.zst.age.",
				Usage:       "dev-backup artifact build <label> [parent] [--output-dir dir]",
				Flags: func() *pflag.FlagSet {
					return cli.FlagsFromParams("build", &buildParams)
				},
				Run: func(args []string) error {
					if err := requireArgs(args, 1, 2, "dev-backup artifact build <label> [parent]"); err != nil {
						return err
					}
					backup, err := a.engine()
					if err != nil {
						return err
					}
					ctx, stop := signalContext()
					defer stop()
					path, err := backup.BuildArtifact(ctx, args[0], optionalArg(args, 1), buildParams.OutputDir)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "Artifact created: %s\n", path)
					return nil
				},
			},
			{
				Name:    "register",
				Summary: "Move an artifact into the storage root and record it",
				Usage:   "dev-backup artifact register <path>",
				Run: func(args []string) error {
					if err := requireArgs(args, 1, 1, "dev-backup artifact register <path>"); err != nil {
						return err
					}
					backup, err := a.engine()
					if err != nil {
						return err
					}
					record, err := backup.Register(args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "Registered %s %s (%s)\n", record.Kind, record.Label, record.LocalPath)
					return nil
				},
			},
		},
	}
}

func (a *app) wsCommand() *cli.Command {
	var runParams struct {
		OutputDir string `flag:"output-dir,o" desc:"directory to write the artifact into" default:"."`
	}
	var requestParams struct {
		AutoParent bool   `flag:"auto-parent" desc:"use the newest local snapshot as the incremental parent"`
		LSHost     string `flag:"ls-host" desc:"storage host (default remote.ls_host)"`
		LSUser     string `flag:"ls-user" desc:"ssh user on the storage host (default remote.ls_user)"`
	}
	return &cli.Command{
		Name:    "ws",
		Summary: "Workstation backup and restore cycles",
		Subcommands: []*cli.Command{
			{
				Name:        "run-month",
				Summary:     "Decide anchor or incremental, snapshot, and build the artifact",
				Description: "Run one monthly cycle: read the manifest (local, else remote), apply the anchor policy, snapshot the dataset as dev@<label>, and build the artifact.",
				Usage:       "dev-backup ws run-month <label> [--output-dir dir]",
				Flags: func() *pflag.FlagSet {
					return cli.FlagsFromParams("run-month", &runParams)
				},
				Run: func(args []string) error {
					if err := requireArgs(args, 1, 1, "dev-backup ws run-month <label>"); err != nil {
						return err
					}
					backup, err := a.engine()
					if err != nil {
						return err
					}
					ctx, stop := signalContext()
					defer stop()
					result, err := backup.RunMonth(ctx, args[0], runParams.OutputDir)
					if err != nil {
						return err
					}
					if result.Decision.Kind == manifest.Incremental {
						fmt.Fprintf(a.stdout, "Run-month complete: incremental from %s\n", result.Decision.Parent)
					} else {
						fmt.Fprintln(a.stdout, "Run-month complete: anchor")
					}
					fmt.Fprintf(a.stdout, "Artifact created: %s\n", result.Artifact)
					return nil
				},
			},
			{
				Name:        "request",
				Summary:     "Fetch a snapshot from the storage host and make it the working tree",
				Description: "Run 'dev-backup ls send' on the storage host (directly for localhost, otherwise over ssh), receive the stream into the snapshots directory, and replace the dataset with it.",
				Usage:       "dev-backup ws request <label|latest> [parent] [--auto-parent] [--ls-host host] [--ls-user user]",
				Examples: []cli.Example{
					{Description: "Restore the newest backup incrementally", Command: "dev-backup ws request latest --auto-parent"},
				},
				Flags: func() *pflag.FlagSet {
					return cli.FlagsFromParams("request", &requestParams)
				},
				Run: func(args []string) error {
					if err := requireArgs(args, 1, 2, "dev-backup ws request <label|latest> [parent]"); err != nil {
						return err
					}
					backup, err := a.engine()
					if err != nil {
						return err
					}
					ctx, stop := signalContext()
					defer stop()
					resolved, err := backup.Request(ctx, engine.RequestOptions{
						Label:      args[0],
						Parent:     optionalArg(args, 1),
						AutoParent: requestParams.AutoParent,
						Host:       requestParams.LSHost,
						User:       requestParams.LSUser,
					})
					if err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "Working tree updated to dev@%s\n", resolved)
					return nil
				},
			},
		},
	}
}
