// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/devbackup/lib/artifactname"
	"github.com/bureau-foundation/devbackup/lib/btrfs"
	"github.com/bureau-foundation/devbackup/lib/clock"
	"github.com/bureau-foundation/devbackup/lib/config"
	"github.com/bureau-foundation/devbackup/lib/fault"
	"github.com/bureau-foundation/devbackup/lib/label"
	"github.com/bureau-foundation/devbackup/lib/manifest"
	"github.com/bureau-foundation/devbackup/lib/objectstore"
	"github.com/bureau-foundation/devbackup/lib/pipeline"
)

// Subvolumes creates and removes btrfs subvolumes. [*btrfs.Client]
// implements it.
type Subvolumes interface {
	Snapshot(ctx context.Context, source, destination string, readOnly bool) error
	Delete(ctx context.Context, path string) error
	IsSubvolume(ctx context.Context, path string) bool
}

// Runner executes a pipeline. [pipeline.Run] is the production runner.
type Runner func(ctx context.Context, stages []pipeline.Stage) error

// RemoteFactory opens the configured object store. The caller closes
// the returned store.
type RemoteFactory func(ctx context.Context) (objectstore.Store, error)

// Engine runs dev-backup operations against one configuration.
type Engine struct {
	Config     *config.Config
	Clock      clock.Clock
	Subvolumes Subvolumes
	// IsBtrfs reports whether a path is on a btrfs filesystem.
	IsBtrfs func(path string) (bool, error)
	Run     Runner
	Remote  RemoteFactory
	Logger  *slog.Logger

	// Stderr receives a live copy of every pipeline stage's stderr.
	// Nil keeps only the tail captured for errors.
	Stderr io.Writer
}

// New returns an Engine wired to the real btrfs binary, process
// pipelines, and the configured object store.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		Config:     cfg,
		Clock:      clock.Real(),
		Subvolumes: btrfs.NewClient(cfg.Tools.Btrfs),
		IsBtrfs:    btrfs.IsBtrfs,
		Run:        pipeline.Run,
		Remote: func(ctx context.Context) (objectstore.Store, error) {
			storeConfig, err := cfg.ObjectStore()
			if err != nil {
				return nil, err
			}
			return objectstore.New(ctx, storeConfig)
		},
		Logger: logger,
		Stderr: os.Stderr,
	}
}

func (e *Engine) manifestStore() *manifest.Store {
	return manifest.NewStore(e.Config.ManifestPath())
}

// runPipeline runs stages through e.Run with the engine's stderr
// pass-through applied.
func (e *Engine) runPipeline(ctx context.Context, stages []pipeline.Stage) error {
	for index := range stages {
		if stages[index].Stderr == nil {
			stages[index].Stderr = e.Stderr
		}
		e.Logger.Debug("pipeline stage", "stage", stages[index].Name, "command", stages[index].CommandLine())
	}
	return e.Run(ctx, stages)
}

// workstationSnapshot returns <paths.snapshots>/dev@<label>.
func (e *Engine) workstationSnapshot(snapshotLabel string) string {
	return filepath.Join(e.Config.Paths.Snapshots, artifactname.SnapshotName(snapshotLabel))
}

// restoreSnapshot returns <storage_root>/restore/snapshots/dev@<label>.
func (e *Engine) restoreSnapshot(snapshotLabel string) string {
	return filepath.Join(e.Config.RestoreSnapshotsDir(), artifactname.SnapshotName(snapshotLabel))
}

// restoreSnapshotExists is the chain resolver's early-stop predicate for
// restores on the storage host.
func (e *Engine) restoreSnapshotExists(snapshotLabel string) bool {
	return exists(e.restoreSnapshot(snapshotLabel))
}

// localRecords reads the storage host's manifest. An empty manifest is
// a not-found fault.
func (e *Engine) localRecords() ([]manifest.Record, error) {
	if err := e.Config.Require(config.FieldStorageRoot); err != nil {
		return nil, err
	}
	store := e.manifestStore()
	records, err := store.ReadRecords()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fault.NotFoundf("manifest %s is empty", store.Path())
	}
	return records, nil
}

// resolveLabel turns a label or "latest" into a concrete label using
// records.
func resolveLabel(records []manifest.Record, target string) (string, error) {
	if err := label.CheckOrLatest(target); err != nil {
		return "", err
	}
	if target != label.Latest {
		return target, nil
	}
	latest, ok := manifest.Latest(records)
	if !ok {
		return "", fault.NotFoundf("no records in manifest to resolve %q", label.Latest)
	}
	return latest.Label, nil
}

// workstationRecords returns the manifest as seen from a workstation:
// the local storage-root manifest when one exists, else the remote
// manifest when a cloud provider is configured, else nothing.
func (e *Engine) workstationRecords(ctx context.Context) ([]manifest.Record, error) {
	if e.Config.Paths.StorageRoot != "" {
		store := e.manifestStore()
		if store.Exists() {
			return store.ReadRecords()
		}
	}
	if e.Config.Cloud.Provider == "" {
		return nil, nil
	}
	return e.remoteRecords(ctx)
}

func (e *Engine) remoteRecords(ctx context.Context) ([]manifest.Record, error) {
	remote, err := e.Remote(ctx)
	if err != nil {
		return nil, err
	}
	defer remote.Close()

	temporary, err := os.CreateTemp("", "dev-backup-manifest-*.tsv")
	if err != nil {
		return nil, fmt.Errorf("creating temporary manifest: %w", err)
	}
	temporaryPath := temporary.Name()
	temporary.Close()
	defer os.Remove(temporaryPath)

	if err := remote.Get(ctx, manifest.RemoteKey, temporaryPath); err != nil {
		return nil, fmt.Errorf("fetching remote manifest: %w", err)
	}
	records, err := manifest.NewStore(temporaryPath).ReadRecords()
	if err != nil {
		return nil, err
	}
	e.Logger.Info("using remote manifest", "records", len(records))
	return records, nil
}

// replaceWorktree swaps the dataset for a writable snapshot of source.
// An existing subvolume is deleted; anything else is moved aside to
// <dataset>_backup_<unix seconds>.
func (e *Engine) replaceWorktree(ctx context.Context, source string) error {
	dataset := e.Config.Paths.Dataset
	if exists(dataset) {
		if e.Subvolumes.IsSubvolume(ctx, dataset) {
			if err := e.Subvolumes.Delete(ctx, dataset); err != nil {
				return fmt.Errorf("removing worktree %s: %w", dataset, err)
			}
			e.Logger.Info("deleted worktree subvolume", "path", dataset)
		} else {
			backup := fmt.Sprintf("%s_backup_%d", dataset, e.Clock.Now().Unix())
			if err := os.Rename(dataset, backup); err != nil {
				return fmt.Errorf("moving existing worktree to %s: %w", backup, err)
			}
			e.Logger.Warn("worktree was not a subvolume; moved aside", "path", dataset, "backup", backup)
		}
	}
	if err := e.Subvolumes.Snapshot(ctx, source, dataset, false); err != nil {
		return fmt.Errorf("creating worktree from %s: %w", source, err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// requireExists returns a not-found fault naming what when path is
// absent.
func requireExists(path, what string) error {
	_, err := os.Lstat(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return fault.NotFoundf("%s %s does not exist", what, path)
	}
	return fmt.Errorf("checking %s %s: %w", what, path, err)
}
