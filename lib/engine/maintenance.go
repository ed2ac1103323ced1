// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"filippo.io/age"

	"github.com/bureau-foundation/devbackup/lib/chain"
	"github.com/bureau-foundation/devbackup/lib/config"
	"github.com/bureau-foundation/devbackup/lib/reconcile"
	"github.com/bureau-foundation/devbackup/lib/retention"
	"github.com/bureau-foundation/devbackup/lib/sealed"
	"github.com/bureau-foundation/devbackup/lib/verify"
)

// DefaultPullDirectory is where [Engine.Pull] writes when no
// destination is given.
var DefaultPullDirectory = filepath.Join(os.TempDir(), "dev-backup-cloud-pull")

func (e *Engine) reconciler(ctx context.Context) (*reconcile.Reconciler, func(), error) {
	remote, err := e.Remote(ctx)
	if err != nil {
		return nil, nil, err
	}
	return &reconcile.Reconciler{
		Manifest:    e.manifestStore(),
		StorageRoot: e.Config.Paths.StorageRoot,
		Remote:      remote,
		Logger:      e.Logger,
	}, func() { remote.Close() }, nil
}

// Push uploads every unsynced artifact and then the manifest.
func (e *Engine) Push(ctx context.Context) (reconcile.PushResult, error) {
	if err := e.Config.Require(config.FieldStorageRoot, config.FieldCloud); err != nil {
		return reconcile.PushResult{}, err
	}
	reconciler, closeRemote, err := e.reconciler(ctx)
	if err != nil {
		return reconcile.PushResult{}, err
	}
	defer closeRemote()
	return reconciler.Push(ctx)
}

// Pull downloads the chain for target from the object store into
// destination, or [DefaultPullDirectory] when destination is empty.
func (e *Engine) Pull(ctx context.Context, target, destination string) (reconcile.PullResult, error) {
	if err := e.Config.Require(config.FieldCloud); err != nil {
		return reconcile.PullResult{}, err
	}
	if destination == "" {
		destination = DefaultPullDirectory
	}
	reconciler, closeRemote, err := e.reconciler(ctx)
	if err != nil {
		return reconcile.PullResult{}, err
	}
	defer closeRemote()
	return reconciler.Pull(ctx, target, destination)
}

// Verify rehashes local artifacts against the manifest. An empty target
// checks every record; a label or "latest" checks that label's restore
// chain. With deep set, each artifact is also decrypted and
// decompressed in-process.
//
// The results are returned even when some checks fail; the error joins
// every failure.
func (e *Engine) Verify(ctx context.Context, target string, deep bool) ([]verify.Result, error) {
	records, err := e.localRecords()
	if err != nil {
		return nil, err
	}
	if target != "" {
		records, err = chain.Resolve(records, target, nil)
		if err != nil {
			return nil, err
		}
	}

	var identities []age.Identity
	if deep {
		if err := e.Config.Require(config.FieldIdentity); err != nil {
			return nil, err
		}
		identities, err = sealed.LoadIdentities(e.Config.Crypto.IdentityFile)
		if err != nil {
			return nil, err
		}
	}

	results := verify.Records(ctx, records, verify.Options{Identities: identities})
	failures := 0
	for _, result := range results {
		if result.Err != nil {
			failures++
			e.Logger.Error("artifact failed verification", "label", result.Record.Label, "error", result.Err)
		}
	}
	e.Logger.Info("verification complete", "checked", len(results), "failed", failures, "deep", deep)
	return results, verify.Failures(results)
}

// Prune applies the retention policy to the dated snapshot directories
// under retention.root. Nothing is deleted when dryRun is set. The
// manifest is never touched.
func (e *Engine) Prune(ctx context.Context, dryRun bool) ([]retention.Group, error) {
	root := e.Config.Retention.Root
	groups, err := retention.Plan(root, e.Clock.Now(), e.Config.Retention.WindowDays)
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		for _, name := range group.Skipped {
			e.Logger.Warn("skipping snapshot without timestamp", "group", group.Name, "name", name)
		}
		for _, snapshot := range group.Delete {
			if dryRun {
				e.Logger.Info("would delete snapshot", "group", group.Name, "path", snapshot.Path)
				continue
			}
			if err := e.Subvolumes.Delete(ctx, snapshot.Path); err != nil {
				return groups, fmt.Errorf("pruning %s: %w", snapshot.Path, err)
			}
			e.Logger.Info("deleted snapshot", "group", group.Name, "path", snapshot.Path)
		}
	}
	return groups, nil
}
