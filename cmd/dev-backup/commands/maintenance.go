// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/devbackup/cmd/dev-backup/cli"
	"github.com/bureau-foundation/devbackup/lib/version"
)

func (a *app) syncCommand() *cli.Command {
	return &cli.Command{
		Name:    "sync",
		Summary: "Upload to and download from the object store",
		Subcommands: []*cli.Command{
			{
				Name:    "push",
				Summary: "Upload unsynced artifacts, then the manifest",
				Usage:   "dev-backup sync push",
				Run: func(args []string) error {
					if err := requireArgs(args, 0, 0, "dev-backup sync push"); err != nil {
						return err
					}
					backup, err := a.engine()
					if err != nil {
						return err
					}
					ctx, stop := signalContext()
					defer stop()
					result, err := backup.Push(ctx)
					if err != nil {
						return err
					}
					for _, key := range result.Uploaded {
						fmt.Fprintf(a.stdout, "Uploaded %s\n", key)
					}
					fmt.Fprintf(a.stdout, "Sync push complete (%d uploaded)\n", len(result.Uploaded))
					return nil
				},
			},
			{
				Name:        "pull",
				Summary:     "Download a label's chain from the object store",
				Description: "Fetch the remote manifest, resolve the chain for <label> back to its anchor, and download each artifact into [dest] (default: a dev-backup-cloud-pull directory under the system temp dir). Artifacts already present with the recorded hash are skipped.",
				Usage:       "dev-backup sync pull <label|latest> [dest]",
				Run: func(args []string) error {
					if err := requireArgs(args, 1, 2, "dev-backup sync pull <label|latest> [dest]"); err != nil {
						return err
					}
					backup, err := a.engine()
					if err != nil {
						return err
					}
					ctx, stop := signalContext()
					defer stop()
					result, err := backup.Pull(ctx, args[0], optionalArg(args, 1))
					if err != nil {
						return err
					}
					for _, key := range result.Downloaded {
						fmt.Fprintf(a.stdout, "Downloaded %s\n", key)
					}
					for _, key := range result.Skipped {
						fmt.Fprintf(a.stdout, "Already present: %s\n", key)
					}
					fmt.Fprintf(a.stdout, "Sync pull complete; manifest saved to %s\n", result.ManifestPath)
					return nil
				},
			},
		},
	}
}

func (a *app) pruneCommand() *cli.Command {
	var params struct {
		DryRun bool `flag:"dry-run,n" desc:"report what would be deleted without deleting"`
	}
	return &cli.Command{
		Name:        "prune",
		Summary:     "Apply the retention policy to dated snapshot directories",
		Description: "Under retention.root, keep every <group>/<name>-YYYYMMDD_HHMM snapshot younger than retention.window_days and the earliest one of each older calendar month; delete the rest with btrfs subvolume delete. The manifest is not touched.",
		Usage:       "dev-backup prune [--dry-run]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("prune", &params)
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 0, 0, "dev-backup prune [--dry-run]"); err != nil {
				return err
			}
			backup, err := a.engine()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			groups, err := backup.Prune(ctx, params.DryRun)
			if err != nil {
				return err
			}
			verb := "Deleted"
			if params.DryRun {
				verb = "Would delete"
			}
			for _, group := range groups {
				for _, snapshot := range group.Delete {
					fmt.Fprintf(a.stdout, "%s %s\n", verb, snapshot.Path)
				}
				fmt.Fprintf(a.stdout, "%s: kept %d, pruned %d\n", group.Name, len(group.Keep), len(group.Delete))
			}
			return nil
		},
	}
}

func (a *app) versionCommand() *cli.Command {
	var params struct {
		Digest bool `flag:"digest" desc:"also print the SHA-256 of the running binary"`
	}
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Usage:   "dev-backup version [--digest]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("version", &params)
		},
		Run: func(args []string) error {
			fmt.Fprintln(a.stdout, version.Full())
			if params.Digest {
				digest, path, err := version.ExecutableDigest()
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "  Binary: %s\n  SHA-256: %s\n", path, digest)
			}
			return nil
		},
	}
}
