// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/devbackup/cmd/dev-backup/cli"
	"github.com/bureau-foundation/devbackup/lib/fault"
	"github.com/bureau-foundation/devbackup/lib/manifest"
)

func (a *app) initCommand() *cli.Command {
	return &cli.Command{
		Name:    "init",
		Summary: "Prepare a storage host or workstation",
		Subcommands: []*cli.Command{
			{
				Name:    "ls",
				Summary: "Create the storage-root layout, manifest, and age keypair",
				Usage:   "dev-backup init ls",
				Run: func(args []string) error {
					if err := requireArgs(args, 0, 0, "dev-backup init ls"); err != nil {
						return err
					}
					backup, err := a.engine()
					if err != nil {
						return err
					}
					result, err := backup.InitStorage()
					if err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "Storage root ready: %s\n", backup.Config.Paths.StorageRoot)
					if result.KeypairCreated {
						fmt.Fprintf(a.stdout, "Generated age keypair; recipients file: %s\n", result.RecipientsFile)
					}
					return nil
				},
			},
			{
				Name:    "ws",
				Summary: "Check the dataset is on btrfs and create the snapshots directory",
				Usage:   "dev-backup init ws",
				Run: func(args []string) error {
					if err := requireArgs(args, 0, 0, "dev-backup init ws"); err != nil {
						return err
					}
					backup, err := a.engine()
					if err != nil {
						return err
					}
					if err := backup.InitWorkstation(); err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "Workstation ready: snapshots in %s\n", backup.Config.Paths.Snapshots)
					return nil
				},
			},
		},
	}
}

func (a *app) restoreCommand() *cli.Command {
	var planParams struct {
		Long bool `flag:"long,l" desc:"show label, type, and size with each artifact"`
	}
	return &cli.Command{
		Name:    "restore",
		Summary: "Plan, hydrate, and apply a restore on the storage host",
		Subcommands: []*cli.Command{
			{
				Name:        "plan",
				Summary:     "List the artifacts needed to restore a label",
				Description: "Print the artifact paths needed to restore <label>, oldest first. The plan stops at any parent already hydrated under restore/snapshots.",
				Usage:       "dev-backup restore plan <label|latest> [--long]",
				Flags: func() *pflag.FlagSet {
					return cli.FlagsFromParams("plan", &planParams)
				},
				Run: func(args []string) error {
					if err := requireArgs(args, 1, 1, "dev-backup restore plan <label|latest>"); err != nil {
						return err
					}
					backup, err := a.engine()
					if err != nil {
						return err
					}
					plan, err := backup.Plan(args[0])
					if err != nil {
						return err
					}
					if !planParams.Long {
						for _, record := range plan {
							fmt.Fprintln(a.stdout, record.LocalPath)
						}
						return nil
					}
					writer := tabwriter.NewWriter(a.stdout, 2, 0, 2, ' ', 0)
					for _, record := range plan {
						fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", record.Label, record.Kind, humanize.IBytes(record.Bytes), record.LocalPath)
					}
					return writer.Flush()
				},
			},
			{
				Name:    "hydrate",
				Summary: "Receive the planned chain into restore/snapshots",
				Usage:   "dev-backup restore hydrate <label|latest>",
				Run: func(args []string) error {
					if err := requireArgs(args, 1, 1, "dev-backup restore hydrate <label|latest>"); err != nil {
						return err
					}
					backup, err := a.engine()
					if err != nil {
						return err
					}
					ctx, stop := signalContext()
					defer stop()
					result, err := backup.Hydrate(ctx, args[0])
					if err != nil {
						return err
					}
					for _, hydrated := range result.Received {
						fmt.Fprintf(a.stdout, "Hydrated dev@%s\n", hydrated)
					}
					for _, present := range result.Present {
						fmt.Fprintf(a.stdout, "Already hydrated: dev@%s\n", present)
					}
					return nil
				},
			},
			{
				Name:    "apply",
				Summary: "Replace the dataset with a hydrated snapshot",
				Usage:   "dev-backup restore apply <label|latest>",
				Run: func(args []string) error {
					if err := requireArgs(args, 1, 1, "dev-backup restore apply <label|latest>"); err != nil {
						return err
					}
					backup, err := a.engine()
					if err != nil {
						return err
					}
					ctx, stop := signalContext()
					defer stop()
					resolved, err := backup.Apply(ctx, args[0])
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

func (a *app) lsCommand() *cli.Command {
	return &cli.Command{
		Name:    "ls",
		Summary: "Storage-host commands invoked by workstations",
		Subcommands: []*cli.Command{
			{
				Name:        "send",
				Summary:     "Write a restore snapshot to stdout as a btrfs send stream",
				Description: "Stream restore/snapshots/dev@<label> to stdout, incremental from [parent] when given. Workstations run this over ssh from 'ws request'.",
				Usage:       "dev-backup ls send <label|latest> [parent]",
				Run: func(args []string) error {
					if err := requireArgs(args, 1, 2, "dev-backup ls send <label|latest> [parent]"); err != nil {
						return err
					}
					backup, err := a.engine()
					if err != nil {
						return err
					}
					ctx, stop := signalContext()
					defer stop()
					return backup.Send(ctx, args[0], optionalArg(args, 1), a.stdout)
				},
			},
		},
	}
}

func (a *app) manifestCommand() *cli.Command {
	return &cli.Command{
		Name:    "manifest",
		Summary: "Inspect the manifest",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Summary: "Print every manifest row",
				Usage:   "dev-backup manifest list",
				Run: func(args []string) error {
					if err := requireArgs(args, 0, 0, "dev-backup manifest list"); err != nil {
						return err
					}
					backup, err := a.engine()
					if err != nil {
						return err
					}
					records, err := backup.ListManifest()
					if err != nil {
						return err
					}
					return writeManifestTable(a, records)
				},
			},
		},
	}
}

func writeManifestTable(a *app, records []manifest.Record) error {
	writer := tabwriter.NewWriter(a.stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "TIMESTAMP\tLABEL\tTYPE\tPARENT\tSIZE\tSYNCED")
	for _, record := range records {
		parent := record.Parent
		if parent == "" {
			parent = "-"
		}
		synced := "no"
		if record.ObjectKey != "" {
			synced = "yes"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			record.Timestamp.UTC().Format("2006-01-02 15:04"),
			record.Label, record.Kind, parent, humanize.IBytes(record.Bytes), synced)
	}
	return writer.Flush()
}

func (a *app) verifyCommand() *cli.Command {
	var params struct {
		Deep bool `flag:"deep" desc:"also decrypt and decompress every artifact with the identity file"`
	}
	return &cli.Command{
		Name:        "verify",
		Summary:     "Rehash local artifacts against the manifest",
		Description: "Recompute the SHA-256 and size of each local artifact and compare them with the manifest. With a label, only that label's restore chain is checked.",
		Usage:       "dev-backup verify [label|latest] [--deep]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("verify", &params)
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 0, 1, "dev-backup verify [label|latest] [--deep]"); err != nil {
				return err
			}
			backup, err := a.engine()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			results, verifyErr := backup.Verify(ctx, optionalArg(args, 0), params.Deep)
			if results == nil && verifyErr != nil {
				return verifyErr
			}
			writer := tabwriter.NewWriter(a.stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "LABEL\tSTATUS\tARTIFACT")
			for _, result := range results {
				status := "ok"
				if result.Err != nil {
					status = "FAILED: " + result.Err.Error()
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\n", result.Record.Label, status, result.Record.LocalPath)
			}
			if err := writer.Flush(); err != nil {
				return err
			}
			if verifyErr != nil {
				return &cli.ExitError{Code: fault.ExitCode(fault.KindOf(verifyErr))}
			}
			return nil
		},
	}
}
