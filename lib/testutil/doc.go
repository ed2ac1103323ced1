// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for dev-backup
// packages.
//
// [Logger] routes slog output through t.Log so it appears only for
// failing or verbose tests. [StorageRoot] creates an empty storage-root
// layout in a temporary directory. [WriteArtifact] places an artifact
// file where registration would have moved it and returns the matching
// manifest record.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
