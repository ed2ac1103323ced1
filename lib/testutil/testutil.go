// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/devbackup/lib/artifactname"
	"github.com/bureau-foundation/devbackup/lib/manifest"
	"github.com/bureau-foundation/devbackup/lib/verify"
)

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

// Logger returns a debug-level logger that writes through t.Log.
func Logger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// StorageRoot creates the storage-root directories in a fresh temporary
// directory and returns its path. The manifest itself is not created.
func StorageRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, directory := range []string{"artifacts/anchors", "artifacts/incr", "manifests", "restore/snapshots"} {
		if err := os.MkdirAll(filepath.Join(root, directory), 0o755); err != nil {
			t.Fatalf("creating %s: %v", directory, err)
		}
	}
	return root
}

// WriteArtifact writes data as the artifact for label (an anchor when
// parent is empty) under root and returns its manifest record stamped
// with timestamp.
func WriteArtifact(t *testing.T, root, label, parent string, timestamp time.Time, data []byte) manifest.Record {
	t.Helper()
	filename, err := artifactname.Build(label, parent)
	if err != nil {
		t.Fatalf("artifactname.Build(%s, %s): %v", label, parent, err)
	}
	kind := manifest.Anchor
	subdirectory := "anchors"
	if parent != "" {
		kind = manifest.Incremental
		subdirectory = "incr"
	}
	path := filepath.Join(root, "artifacts", subdirectory, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating artifact directory: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing artifact %s: %v", path, err)
	}
	digest, size, err := verify.HashFile(path)
	if err != nil {
		t.Fatalf("hashing artifact %s: %v", path, err)
	}
	return manifest.Record{
		Timestamp: timestamp,
		Label:     label,
		Kind:      kind,
		Parent:    parent,
		Bytes:     size,
		SHA256:    digest,
		LocalPath: path,
	}
}
