// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/devbackup/lib/artifactname"
	"github.com/bureau-foundation/devbackup/lib/chain"
	"github.com/bureau-foundation/devbackup/lib/config"
	"github.com/bureau-foundation/devbackup/lib/fault"
	"github.com/bureau-foundation/devbackup/lib/label"
	"github.com/bureau-foundation/devbackup/lib/manifest"
	"github.com/bureau-foundation/devbackup/lib/pipeline"
	"github.com/bureau-foundation/devbackup/lib/sealed"
	"github.com/bureau-foundation/devbackup/lib/verify"
)

// InitStorageResult reports what [Engine.InitStorage] created.
type InitStorageResult struct {
	Directories    []string
	ManifestPath   string
	KeypairCreated bool
	RecipientsFile string
}

// InitStorage creates the storage-root layout, an empty manifest, and
// the age keypair. Running it again changes nothing.
func (e *Engine) InitStorage() (InitStorageResult, error) {
	var result InitStorageResult
	if err := e.Config.Require(config.FieldStorageRoot, config.FieldIdentity, config.FieldRecipients); err != nil {
		return result, err
	}

	for _, directory := range e.Config.StorageLayout() {
		mode := os.FileMode(0o755)
		if directory == e.Config.KeysDir() {
			mode = 0o700
		}
		if err := os.MkdirAll(directory, mode); err != nil {
			return result, fmt.Errorf("creating %s: %w", directory, err)
		}
		result.Directories = append(result.Directories, directory)
	}

	store := e.manifestStore()
	if err := store.EnsureInitialized(); err != nil {
		return result, err
	}
	result.ManifestPath = store.Path()

	created, err := sealed.EnsureKeypair(e.Config.Crypto.IdentityFile, e.Config.Crypto.RecipientsFile, e.Clock.Now())
	if err != nil {
		return result, err
	}
	result.KeypairCreated = created
	result.RecipientsFile = e.Config.Crypto.RecipientsFile
	if created {
		e.Logger.Info("generated age keypair",
			"identity", e.Config.Crypto.IdentityFile,
			"recipients", e.Config.Crypto.RecipientsFile)
	}
	e.Logger.Info("storage root initialized", "root", e.Config.Paths.StorageRoot)
	return result, nil
}

// Register moves a built artifact into the storage root and appends its
// record to the manifest.
//
// The filename must parse as an artifact name. An artifact already
// present at the destination is never overwritten. If the record cannot
// be appended the artifact is moved back to path. Registering a label
// that is already in the manifest is allowed; the new row shadows the
// old one and a warning is logged.
func (e *Engine) Register(path string) (manifest.Record, error) {
	if err := e.Config.Require(config.FieldStorageRoot); err != nil {
		return manifest.Record{}, err
	}
	filename := filepath.Base(path)
	reference, ok := artifactname.Parse(filename)
	if !ok {
		return manifest.Record{}, fault.Validationf("%q is not an artifact name", filename)
	}
	if err := requireExists(path, "artifact"); err != nil {
		return manifest.Record{}, err
	}

	store := e.manifestStore()
	if err := store.EnsureInitialized(); err != nil {
		return manifest.Record{}, err
	}
	existing, err := store.ReadRecords()
	if err != nil {
		return manifest.Record{}, err
	}
	if previous, ok := manifest.LatestByLabel(existing)[reference.Label]; ok {
		e.Logger.Warn("label already registered; new record takes precedence",
			"label", reference.Label,
			"previous_type", previous.Kind,
			"previous_path", previous.LocalPath)
	}

	directory := e.Config.AnchorsDir()
	if reference.Kind == manifest.Incremental {
		directory = e.Config.IncrementalsDir()
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return manifest.Record{}, fmt.Errorf("creating %s: %w", directory, err)
	}
	destination := filepath.Join(directory, reference.Filename)
	if exists(destination) {
		return manifest.Record{}, fault.Validationf("refusing to overwrite existing artifact %s", destination)
	}
	if err := os.Rename(path, destination); err != nil {
		return manifest.Record{}, fmt.Errorf("moving artifact to %s: %w", destination, err)
	}

	// The move is undone if the row cannot be appended.
	restore := func(cause error) error {
		if err := os.Rename(destination, path); err != nil {
			return errors.Join(cause, fmt.Errorf("returning artifact to %s: %w", path, err))
		}
		return cause
	}

	digest, size, err := verify.HashFile(destination)
	if err != nil {
		return manifest.Record{}, restore(err)
	}
	record := manifest.Record{
		Timestamp: e.Clock.Now().UTC().Truncate(time.Second),
		Label:     reference.Label,
		Kind:      reference.Kind,
		Parent:    reference.Parent,
		Bytes:     size,
		SHA256:    digest,
		LocalPath: destination,
	}
	if err := store.AppendRecord(record); err != nil {
		return manifest.Record{}, restore(err)
	}
	e.Logger.Info("registered artifact",
		"label", record.Label,
		"type", record.Kind,
		"bytes", record.Bytes,
		"path", destination)
	return record, nil
}

// Plan returns the artifacts needed to restore target, oldest first.
// The chain stops early at any parent already hydrated under
// restore/snapshots.
func (e *Engine) Plan(target string) ([]manifest.Record, error) {
	records, err := e.localRecords()
	if err != nil {
		return nil, err
	}
	return chain.Resolve(records, target, e.restoreSnapshotExists)
}

// HydrateResult reports what [Engine.Hydrate] did.
type HydrateResult struct {
	// Received lists labels received in this run, oldest first.
	Received []string
	// Present lists labels whose restore snapshot already existed.
	Present []string
}

// Hydrate decrypts, decompresses, and receives the planned chain for
// target into restore/snapshots.
func (e *Engine) Hydrate(ctx context.Context, target string) (HydrateResult, error) {
	var result HydrateResult
	if err := e.Config.Require(config.FieldStorageRoot, config.FieldIdentity); err != nil {
		return result, err
	}
	if err := requireExists(e.Config.Crypto.IdentityFile, "identity file"); err != nil {
		return result, err
	}
	restoreDirectory := e.Config.RestoreSnapshotsDir()
	if err := os.MkdirAll(restoreDirectory, 0o755); err != nil {
		return result, fmt.Errorf("creating %s: %w", restoreDirectory, err)
	}

	plan, err := e.Plan(target)
	if err != nil {
		return result, err
	}
	tools := e.Config.PipelineTools()
	for _, record := range plan {
		snapshot := e.restoreSnapshot(record.Label)
		if exists(snapshot) {
			e.Logger.Info("snapshot already hydrated", "label", record.Label, "path", snapshot)
			result.Present = append(result.Present, record.Label)
			continue
		}
		if record.LocalPath == "" {
			return result, fault.NotFoundf("record %s has no local path", record.Label)
		}
		if err := requireExists(record.LocalPath, "artifact"); err != nil {
			return result, err
		}

		e.Logger.Info("hydrating", "label", record.Label, "artifact", record.LocalPath)
		stages := pipeline.Import(tools, e.Config.Crypto.IdentityFile, record.LocalPath, restoreDirectory)
		if err := e.runPipeline(ctx, stages); err != nil {
			return result, fmt.Errorf("hydrating %s: %w", record.Label, err)
		}
		if err := requireExists(snapshot, "received snapshot"); err != nil {
			return result, err
		}
		result.Received = append(result.Received, record.Label)
	}
	return result, nil
}

// Apply replaces the dataset with a writable snapshot of the hydrated
// restore snapshot for target. It returns the resolved label.
func (e *Engine) Apply(ctx context.Context, target string) (string, error) {
	if err := e.Config.Require(config.FieldDataset); err != nil {
		return "", err
	}
	records, err := e.localRecords()
	if err != nil {
		return "", err
	}
	resolved, err := resolveLabel(records, target)
	if err != nil {
		return "", err
	}
	snapshot := e.restoreSnapshot(resolved)
	if err := requireExists(snapshot, "restore snapshot"); err != nil {
		return "", err
	}
	if err := e.replaceWorktree(ctx, snapshot); err != nil {
		return "", err
	}
	e.Logger.Info("working tree updated", "label", resolved, "dataset", e.Config.Paths.Dataset)
	return resolved, nil
}

// Send streams the restore snapshot for target to stdout as a btrfs
// send stream, incremental from parent when parent is non-empty. This
// is the storage-host half of [Engine.Request].
func (e *Engine) Send(ctx context.Context, target, parent string, stdout io.Writer) error {
	records, err := e.localRecords()
	if err != nil {
		return err
	}
	resolved, err := resolveLabel(records, target)
	if err != nil {
		return err
	}
	snapshot := e.restoreSnapshot(resolved)
	if err := requireExists(snapshot, "snapshot"); err != nil {
		return err
	}
	parentSnapshot := ""
	if parent != "" {
		if err := label.Check(parent); err != nil {
			return err
		}
		parentSnapshot = e.restoreSnapshot(parent)
		if err := requireExists(parentSnapshot, "parent snapshot"); err != nil {
			return err
		}
	}
	e.Logger.Info("sending snapshot", "label", resolved, "parent", parent)
	return e.runPipeline(ctx, pipeline.Send(e.Config.PipelineTools(), snapshot, parentSnapshot, stdout))
}

// ListManifest returns every manifest row in store order. A missing
// manifest yields no rows.
func (e *Engine) ListManifest() ([]manifest.Record, error) {
	if err := e.Config.Require(config.FieldStorageRoot); err != nil {
		return nil, err
	}
	return e.manifestStore().ReadRecords()
}
