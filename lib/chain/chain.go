// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chain resolves the ordered set of artifacts needed to
// reconstruct a snapshot.
//
// Resolution walks backwards from the target through parent pointers
// until it reaches an anchor or a parent the caller already has, then
// returns the records oldest first so they can be applied in order.
// The same walk plans local restores (stop at snapshots already
// received) and remote pulls (never stop early).
package chain

import (
	"github.com/bureau-foundation/devbackup/lib/fault"
	"github.com/bureau-foundation/devbackup/lib/label"
	"github.com/bureau-foundation/devbackup/lib/manifest"
)

// Exists reports whether the snapshot for a label is already present at
// the restore destination. A nil Exists is treated as always false.
type Exists func(label string) bool

// Resolve returns the restore chain for target, oldest first. target is
// a label or [label.Latest].
//
// Duplicate labels resolve to the last row. An unknown label is a
// not-found fault; an incremental without a parent, or a parent chain
// that revisits a label, is a chain-integrity fault.
func Resolve(records []manifest.Record, target string, exists Exists) ([]manifest.Record, error) {
	if err := label.CheckOrLatest(target); err != nil {
		return nil, err
	}

	current := target
	if target == label.Latest {
		latest, ok := manifest.Latest(records)
		if !ok {
			return nil, fault.NotFoundf("no records in manifest to resolve %q", label.Latest)
		}
		current = latest.Label
	}

	byLabel := manifest.LatestByLabel(records)
	visited := make(map[string]bool)
	var chain []manifest.Record
	for {
		if visited[current] {
			return nil, fault.ChainIntegrityf("cycle in parent chain at label %s", current)
		}
		visited[current] = true

		record, ok := byLabel[current]
		if !ok {
			return nil, fault.NotFoundf("label %s not found in manifest", current)
		}
		chain = append(chain, record)

		if record.Kind == manifest.Anchor {
			break
		}
		if record.Parent == "" {
			return nil, fault.ChainIntegrityf("incremental %s has no parent", record.Label)
		}
		if exists != nil && exists(record.Parent) {
			break
		}
		current = record.Parent
	}

	for left, right := 0, len(chain)-1; left < right; left, right = left+1, right-1 {
		chain[left], chain[right] = chain[right], chain[left]
	}
	return chain, nil
}
