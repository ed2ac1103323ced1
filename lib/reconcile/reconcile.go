// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/devbackup/lib/chain"
	"github.com/bureau-foundation/devbackup/lib/fault"
	"github.com/bureau-foundation/devbackup/lib/manifest"
	"github.com/bureau-foundation/devbackup/lib/objectstore"
	"github.com/bureau-foundation/devbackup/lib/verify"
)

// Reconciler pushes and pulls one storage root.
type Reconciler struct {
	Manifest    *manifest.Store
	StorageRoot string
	Remote      objectstore.Store
	Logger      *slog.Logger
}

// PushResult summarizes a push.
type PushResult struct {
	// Uploaded lists the artifact keys uploaded in this run.
	Uploaded []string
}

// PullResult summarizes a pull.
type PullResult struct {
	Chain      []manifest.Record
	Downloaded []string
	// Skipped lists keys already present at the destination with the
	// recorded hash.
	Skipped      []string
	ManifestPath string
}

// ObjectKey derives the remote key for an artifact from its path
// relative to the storage root. A path outside the root, as left by a
// moved root or a manifest pulled from another host, keys as the full
// path without its leading separator.
func ObjectKey(storageRoot, localPath string) (string, error) {
	keyPath := localPath
	relative, err := filepath.Rel(storageRoot, localPath)
	if err == nil && relative != ".." && !strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		keyPath = relative
	}
	key := strings.TrimLeft(filepath.ToSlash(keyPath), "/")
	if key == "" || key == "." {
		return "", fault.Validationf("artifact %s has an empty object key", localPath)
	}
	return key, nil
}

// Push uploads unsynced artifacts in manifest order, then the manifest.
//
// Keys are written back with a single manifest rewrite, and only when
// something was uploaded. If an artifact cannot be uploaded, keys
// assigned earlier in the same run are persisted before the error is
// returned.
func (r *Reconciler) Push(ctx context.Context) (PushResult, error) {
	var result PushResult
	if !r.Manifest.Exists() {
		return result, fault.NotFoundf("manifest %s does not exist", r.Manifest.Path())
	}
	records, err := r.Manifest.ReadRecords()
	if err != nil {
		return result, err
	}

	for index := range records {
		record := &records[index]
		if record.ObjectKey != "" {
			continue
		}
		key, err := r.upload(ctx, *record)
		if err != nil {
			return result, r.persistPartial(records, result, err)
		}
		record.ObjectKey = key
		result.Uploaded = append(result.Uploaded, key)
		r.Logger.Info("uploaded artifact", "label", record.Label, "key", key)
	}

	if len(result.Uploaded) > 0 {
		if err := r.Manifest.WriteRecords(records); err != nil {
			return result, fmt.Errorf("recording object keys: %w", err)
		}
	}

	if err := r.Remote.Put(ctx, manifest.RemoteKey, r.Manifest.Path()); err != nil {
		return result, fmt.Errorf("publishing manifest: %w", err)
	}
	r.Logger.Info("published manifest", "key", manifest.RemoteKey, "uploaded", len(result.Uploaded))
	return result, nil
}

func (r *Reconciler) upload(ctx context.Context, record manifest.Record) (string, error) {
	if record.LocalPath == "" {
		return "", fault.NotFoundf("record %s has no local path", record.Label)
	}
	if _, err := os.Stat(record.LocalPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fault.NotFoundf("artifact for %s missing at %s", record.Label, record.LocalPath)
		}
		return "", fmt.Errorf("stat artifact %s: %w", record.LocalPath, err)
	}
	key, err := ObjectKey(r.StorageRoot, record.LocalPath)
	if err != nil {
		return "", err
	}
	if err := r.Remote.Put(ctx, key, record.LocalPath); err != nil {
		return "", fault.Transportf("uploading %s as %s: %w", record.LocalPath, key, err)
	}
	return key, nil
}

func (r *Reconciler) persistPartial(records []manifest.Record, result PushResult, cause error) error {
	if len(result.Uploaded) == 0 {
		return cause
	}
	if err := r.Manifest.WriteRecords(records); err != nil {
		return errors.Join(cause, fmt.Errorf("recording %d object keys uploaded before the failure: %w", len(result.Uploaded), err))
	}
	r.Logger.Warn("push interrupted; recorded keys uploaded so far", "uploaded", len(result.Uploaded))
	return cause
}

// Pull downloads the chain for target into destination. target is a
// label or "latest"; the chain is always resolved back to its anchor.
func (r *Reconciler) Pull(ctx context.Context, target, destination string) (PullResult, error) {
	var result PullResult
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return result, fmt.Errorf("creating %s: %w", destination, err)
	}

	temporary, err := os.CreateTemp(destination, ".manifest-*.tsv")
	if err != nil {
		return result, fmt.Errorf("creating temporary manifest in %s: %w", destination, err)
	}
	temporaryPath := temporary.Name()
	temporary.Close()
	defer os.Remove(temporaryPath)

	if err := r.Remote.Get(ctx, manifest.RemoteKey, temporaryPath); err != nil {
		return result, fmt.Errorf("fetching remote manifest: %w", err)
	}
	remote, err := manifest.NewStore(temporaryPath).ReadRecords()
	if err != nil {
		return result, err
	}

	records, err := chain.Resolve(remote, target, nil)
	if err != nil {
		return result, err
	}
	for _, record := range records {
		if record.ObjectKey == "" {
			return result, fault.ChainIntegrityf("remote manifest lists %s without an object key", record.Label)
		}
	}
	result.Chain = records

	for _, record := range records {
		key, err := objectstore.CleanKey(record.ObjectKey)
		if err != nil {
			return result, err
		}
		path := filepath.Join(destination, filepath.FromSlash(key))

		if digest, _, err := verify.HashFile(path); err == nil && digest == record.SHA256 {
			result.Skipped = append(result.Skipped, key)
			r.Logger.Info("artifact already present", "label", record.Label, "path", path)
			continue
		}

		if err := r.Remote.Get(ctx, key, path); err != nil {
			return result, fmt.Errorf("downloading %s: %w", record.Label, err)
		}
		digest, _, err := verify.HashFile(path)
		if err != nil {
			return result, err
		}
		if digest != record.SHA256 {
			os.Remove(path)
			return result, fault.ChainIntegrityf("downloaded %s for %s has sha256 %s, manifest records %s",
				key, record.Label, digest, record.SHA256)
		}
		result.Downloaded = append(result.Downloaded, key)
		r.Logger.Info("downloaded artifact", "label", record.Label, "key", key)
	}

	manifestPath := filepath.Join(destination, filepath.FromSlash(manifest.RemoteKey))
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return result, fmt.Errorf("creating %s: %w", filepath.Dir(manifestPath), err)
	}
	if err := os.Rename(temporaryPath, manifestPath); err != nil {
		return result, fmt.Errorf("saving manifest to %s: %w", manifestPath, err)
	}
	result.ManifestPath = manifestPath
	return result, nil
}
