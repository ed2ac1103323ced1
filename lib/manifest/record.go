// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"time"
)

// Kind distinguishes self-contained artifacts from deltas.
type Kind string

const (
	// Anchor is a full artifact that restores without a parent.
	Anchor Kind = "anchor"
	// Incremental holds only the delta since its parent label.
	Incremental Kind = "incremental"
)

// Valid reports whether k is one of the two known kinds.
func (k Kind) Valid() bool {
	return k == Anchor || k == Incremental
}

// Record is one manifest row.
type Record struct {
	Timestamp time.Time
	Label     string
	Kind      Kind
	// Parent is empty for anchors and names the base label for
	// incrementals.
	Parent string
	Bytes  uint64
	// SHA256 is the hex digest of the artifact file taken at
	// registration. It is never recomputed by the store.
	SHA256    string
	LocalPath string
	// ObjectKey is empty until the artifact has been uploaded.
	ObjectKey string
}

// LatestByLabel indexes records by label. When a label appears more
// than once the last row wins.
func LatestByLabel(records []Record) map[string]Record {
	index := make(map[string]Record, len(records))
	for _, record := range records {
		index[record.Label] = record
	}
	return index
}

// Latest returns the record with the greatest timestamp. Ties go to the
// row seen last. The second return is false for an empty slice.
func Latest(records []Record) (Record, bool) {
	var best Record
	found := false
	for _, record := range records {
		if !found || !record.Timestamp.Before(best.Timestamp) {
			best = record
			found = true
		}
	}
	return best, found
}
