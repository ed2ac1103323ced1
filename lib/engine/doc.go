// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine implements the dev-backup operations on top of the
// library packages. An [Engine] owns no state of its own beyond its
// configuration: every operation reads the manifest and the filesystem
// fresh, so a failed run leaves nothing to clean up in memory.
//
// Operations fall into three groups by the host they run on:
//
//   - Storage host: [Engine.InitStorage], [Engine.Register],
//     [Engine.Plan], [Engine.Hydrate], [Engine.Apply], [Engine.Send],
//     [Engine.Verify], [Engine.Push], [Engine.Pull].
//   - Workstation: [Engine.InitWorkstation], [Engine.Snapshot],
//     [Engine.BuildArtifact], [Engine.RunMonth], [Engine.Request].
//   - Either: [Engine.Prune], [Engine.ListManifest].
//
// External effects go through replaceable fields ([Subvolumes],
// [Runner], [RemoteFactory]) so tests drive the operations without
// btrfs, zstd, or age installed.
package engine
