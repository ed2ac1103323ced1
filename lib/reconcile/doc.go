// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reconcile keeps the local manifest and its artifacts in step
// with remote object storage.
//
// [Reconciler.Push] uploads every artifact that has no object key yet,
// records the keys, and republishes the manifest under
// [manifest.RemoteKey]. Running it twice in a row uploads only the
// manifest the second time.
//
// [Reconciler.Pull] fetches the remote manifest, resolves the full
// chain for a label, and downloads the artifacts into a destination
// laid out like a storage root, verifying each against its recorded
// hash.
//
// The manifest has a single writer. Push does not guard against another
// host publishing the remote manifest concurrently; the last upload
// wins.
package reconcile
