// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package objectstore moves whole files to and from remote object
// storage by key.
//
// [Store] is deliberately small: Put uploads a local file under a key,
// Get downloads a key to a local path. Backends:
//
//   - [S3]: any S3-compatible service. A custom endpoint (Cloudflare R2,
//     MinIO) switches to path-style addressing; R2 uses region "auto".
//   - [GCS]: Google Cloud Storage with a service-account key file or
//     application default credentials.
//   - [Directory]: a local directory laid out by key, for air-gapped
//     mirrors and tests.
//   - [Memory]: an in-process map for tests.
//
// Errors from the remote side are transport faults naming the key.
// A key that does not exist is a not-found fault. Get writes through a
// temporary file and renames it into place, so a failed download never
// leaves a partial file at the destination.
package objectstore
