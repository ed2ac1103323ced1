// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bureau-foundation/devbackup/lib/artifactname"
	"github.com/bureau-foundation/devbackup/lib/config"
	"github.com/bureau-foundation/devbackup/lib/fault"
	"github.com/bureau-foundation/devbackup/lib/label"
	"github.com/bureau-foundation/devbackup/lib/manifest"
	"github.com/bureau-foundation/devbackup/lib/pipeline"
	"github.com/bureau-foundation/devbackup/lib/policy"
	"github.com/bureau-foundation/devbackup/lib/sealed"
)

// InitWorkstation checks that the dataset lives on btrfs and creates
// the snapshots directory.
func (e *Engine) InitWorkstation() error {
	if err := e.Config.Require(config.FieldDataset, config.FieldSnapshots); err != nil {
		return err
	}
	dataset := e.Config.Paths.Dataset
	if err := requireExists(dataset, "dataset"); err != nil {
		return err
	}
	onBtrfs, err := e.IsBtrfs(dataset)
	if err != nil {
		return err
	}
	if !onBtrfs {
		return fault.Validationf("dataset %s is not on a btrfs filesystem", dataset)
	}
	if err := os.MkdirAll(e.Config.Paths.Snapshots, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", e.Config.Paths.Snapshots, err)
	}
	e.Logger.Info("workstation initialized", "dataset", dataset, "snapshots", e.Config.Paths.Snapshots)
	return nil
}

// Snapshot takes a read-only snapshot of the dataset as dev@<label>. It
// returns the snapshot path and whether it was created; an existing
// snapshot is left alone.
func (e *Engine) Snapshot(ctx context.Context, snapshotLabel string) (string, bool, error) {
	if err := label.Check(snapshotLabel); err != nil {
		return "", false, err
	}
	if err := e.Config.Require(config.FieldDataset, config.FieldSnapshots); err != nil {
		return "", false, err
	}
	path := e.workstationSnapshot(snapshotLabel)
	if exists(path) {
		e.Logger.Info("snapshot already exists", "path", path)
		return path, false, nil
	}
	if err := os.MkdirAll(e.Config.Paths.Snapshots, 0o755); err != nil {
		return "", false, fmt.Errorf("creating %s: %w", e.Config.Paths.Snapshots, err)
	}
	if err := e.Subvolumes.Snapshot(ctx, e.Config.Paths.Dataset, path, true); err != nil {
		return "", false, err
	}
	e.Logger.Info("created snapshot", "label", snapshotLabel, "path", path)
	return path, true, nil
}

// BuildArtifact exports the snapshot for snapshotLabel as an encrypted,
// compressed send stream in outputDirectory (the working directory when
// empty). A non-empty parent makes it an incremental from that
// snapshot. It returns the artifact path.
func (e *Engine) BuildArtifact(ctx context.Context, snapshotLabel, parent, outputDirectory string) (string, error) {
	filename, err := artifactname.Build(snapshotLabel, parent)
	if err != nil {
		return "", err
	}
	if err := e.Config.Require(config.FieldSnapshots, config.FieldRecipients); err != nil {
		return "", err
	}
	snapshot := e.workstationSnapshot(snapshotLabel)
	if err := requireExists(snapshot, "snapshot"); err != nil {
		return "", err
	}
	parentSnapshot := ""
	if parent != "" {
		parentSnapshot = e.workstationSnapshot(parent)
		if err := requireExists(parentSnapshot, "parent snapshot"); err != nil {
			return "", err
		}
	}
	if _, err := sealed.LoadRecipients(e.Config.Crypto.RecipientsFile); err != nil {
		return "", err
	}

	if outputDirectory == "" {
		outputDirectory = "."
	}
	if err := os.MkdirAll(outputDirectory, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", outputDirectory, err)
	}
	output := filepath.Join(outputDirectory, filename)

	stages := pipeline.Export(e.Config.PipelineTools(), snapshot, parentSnapshot, e.Config.Crypto.RecipientsFile, output)
	if err := e.runPipeline(ctx, stages); err != nil {
		os.Remove(output)
		return "", fmt.Errorf("building %s: %w", filename, err)
	}
	e.Logger.Info("artifact created", "label", snapshotLabel, "parent", parent, "path", output)
	return output, nil
}

// RunMonthResult reports the outcome of [Engine.RunMonth].
type RunMonthResult struct {
	Decision policy.Decision
	Snapshot string
	Artifact string
}

// RunMonth runs one backup cycle: decide anchor or incremental from the
// manifest, snapshot the dataset, and build the artifact. A label that
// already has a manifest row is refused before anything is touched.
func (e *Engine) RunMonth(ctx context.Context, snapshotLabel, outputDirectory string) (RunMonthResult, error) {
	var result RunMonthResult
	if err := label.Check(snapshotLabel); err != nil {
		return result, err
	}
	records, err := e.workstationRecords(ctx)
	if err != nil {
		return result, err
	}
	if slices.ContainsFunc(records, func(record manifest.Record) bool { return record.Label == snapshotLabel }) {
		return result, fault.Validationf("label %s is already registered in the manifest; choose a new month or restore it instead", snapshotLabel)
	}
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b manifest.Record) int { return a.Timestamp.Compare(b.Timestamp) })

	decision, err := policy.Decide(sorted, e.Clock.Now(), e.Config.Policy.MaxMonthsBetweenAnchor)
	if err != nil {
		return result, err
	}
	result.Decision = decision
	e.Logger.Info("policy decision", "label", snapshotLabel, "type", decision.Kind, "parent", decision.Parent, "reason", decision.Reason)

	result.Snapshot, _, err = e.Snapshot(ctx, snapshotLabel)
	if err != nil {
		return result, err
	}
	result.Artifact, err = e.BuildArtifact(ctx, snapshotLabel, decision.Parent, outputDirectory)
	if err != nil {
		return result, err
	}
	return result, nil
}

// RequestOptions configure [Engine.Request].
type RequestOptions struct {
	// Label is the snapshot to fetch, or "latest".
	Label string
	// Parent makes the transfer incremental from a snapshot already
	// present on the workstation.
	Parent string
	// AutoParent picks the newest local snapshot other than Label as
	// the parent when Parent is empty.
	AutoParent bool
	// Host and User override remote.ls_host and remote.ls_user.
	Host string
	User string
}

// Request fetches a snapshot from the storage host into the snapshots
// directory and makes it the working tree. It returns the resolved
// label.
func (e *Engine) Request(ctx context.Context, options RequestOptions) (string, error) {
	if err := e.Config.Require(config.FieldDataset, config.FieldSnapshots); err != nil {
		return "", err
	}
	resolved, err := e.resolveRequestLabel(ctx, options.Label)
	if err != nil {
		return "", err
	}

	parent := options.Parent
	if parent != "" {
		if err := label.Check(parent); err != nil {
			return "", err
		}
	} else if options.AutoParent {
		parent, err = latestLocalSnapshot(e.Config.Paths.Snapshots, resolved)
		if err != nil {
			return "", err
		}
		if parent != "" {
			e.Logger.Info("using local snapshot as parent", "parent", parent)
		}
	}

	snapshots := e.Config.Paths.Snapshots
	if err := os.MkdirAll(snapshots, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", snapshots, err)
	}

	target := pipeline.RequestTarget{
		Host:       firstNonEmpty(options.Host, e.Config.Remote.LSHost, "localhost"),
		User:       firstNonEmpty(options.User, e.Config.Remote.LSUser),
		ConfigPath: e.Config.Remote.RemoteConfig,
	}
	if target.IsLocal() {
		target.ConfigPath = e.Config.Source()
	}
	e.Logger.Info("requesting snapshot", "label", resolved, "parent", parent, "host", target.Host)

	stages := pipeline.Request(e.Config.PipelineTools(), target, resolved, parent, snapshots)
	if err := e.runPipeline(ctx, stages); err != nil {
		return "", fmt.Errorf("requesting %s: %w", resolved, err)
	}
	snapshot := e.workstationSnapshot(resolved)
	if err := requireExists(snapshot, "received snapshot"); err != nil {
		return "", err
	}
	if err := e.replaceWorktree(ctx, snapshot); err != nil {
		return "", err
	}
	e.Logger.Info("working tree updated", "label", resolved, "dataset", e.Config.Paths.Dataset)
	return resolved, nil
}

func (e *Engine) resolveRequestLabel(ctx context.Context, target string) (string, error) {
	if err := label.CheckOrLatest(target); err != nil {
		return "", err
	}
	if target != label.Latest {
		return target, nil
	}
	records, err := e.workstationRecords(ctx)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", fault.NotFoundf("no manifest available to resolve %q", label.Latest)
	}
	return resolveLabel(records, target)
}

// latestLocalSnapshot returns the highest label among dev@<label>
// entries in directory, excluding exclude. A missing directory yields
// "".
func latestLocalSnapshot(directory, exclude string) (string, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading snapshot directory %s: %w", directory, err)
	}
	best := ""
	for _, entry := range entries {
		candidate, ok := strings.CutPrefix(entry.Name(), artifactname.SnapshotPrefix)
		if !ok || candidate == exclude || !label.Valid(candidate) {
			continue
		}
		best = max(best, candidate)
	}
	return best, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
