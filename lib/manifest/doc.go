// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest is the durable record of every artifact the engine
// has produced.
//
// The manifest is a tab-separated table with a fixed header:
//
//	ts	label	type	parent	bytes	sha256	local_path	object_key
//
// one row per artifact, oldest first. A [Record] is appended exactly
// once, at registration, and afterwards only its ObjectKey changes
// (backfilled by the sync push). Records are never deleted here.
//
// Duplicate labels are not rejected. Lookups keyed by label use the
// most recently appended row ([LatestByLabel]), so re-registering a
// label silently shadows the earlier row.
//
// The [Store] assumes a single writer on a single host. There is no
// file locking: two processes appending or rewriting the same manifest
// concurrently can lose rows.
package manifest
