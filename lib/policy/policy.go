// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy decides whether the next backup cycle produces a full
// anchor or an incremental artifact.
//
// An anchor is forced when the current chain is too old or when the
// incrementals stacked on it have grown as large as the anchor itself.
// Both limits keep restore chains short.
package policy

import (
	"math"
	"time"

	"github.com/bureau-foundation/devbackup/lib/fault"
	"github.com/bureau-foundation/devbackup/lib/manifest"
)

// DefaultMaxMonthsBetweenAnchor applies when the configured limit is
// zero or negative.
const DefaultMaxMonthsBetweenAnchor = 12

// month is the approximate month used for anchor age.
const month = 30 * 24 * time.Hour

// Decision is the outcome of [Decide].
type Decision struct {
	Kind manifest.Kind
	// Parent is the label the incremental is taken from. Empty for an
	// anchor.
	Parent string
	// Reason is a short human-readable explanation for logs.
	Reason string
}

// Decide chooses the artifact kind for the next cycle given the manifest
// rows in store order.
//
// An empty manifest yields an anchor. A non-empty manifest without any
// anchor is a no-anchor fault: nothing safe can be chained onto it.
func Decide(records []manifest.Record, now time.Time, maxMonthsBetweenAnchor int) (Decision, error) {
	if maxMonthsBetweenAnchor <= 0 {
		maxMonthsBetweenAnchor = DefaultMaxMonthsBetweenAnchor
	}
	if len(records) == 0 {
		return Decision{Kind: manifest.Anchor, Reason: "manifest is empty"}, nil
	}

	anchorIndex := -1
	for index := len(records) - 1; index >= 0; index-- {
		if records[index].Kind == manifest.Anchor {
			anchorIndex = index
			break
		}
	}
	if anchorIndex < 0 {
		return Decision{}, fault.NoAnchorf("no anchor found among %d manifest records", len(records))
	}
	anchor := records[anchorIndex]

	elapsedMonths := int64(now.Sub(anchor.Timestamp) / month)
	if elapsedMonths >= int64(maxMonthsBetweenAnchor) {
		return Decision{
			Kind:   manifest.Anchor,
			Reason: "anchor " + anchor.Label + " is too old",
		}, nil
	}

	var cumulative uint64
	for _, record := range records[anchorIndex+1:] {
		if cumulative > math.MaxUint64-record.Bytes {
			cumulative = math.MaxUint64
			break
		}
		cumulative += record.Bytes
	}
	if cumulative >= max(anchor.Bytes, 1) {
		return Decision{
			Kind:   manifest.Anchor,
			Reason: "incrementals since " + anchor.Label + " outweigh the anchor",
		}, nil
	}

	latest, _ := manifest.Latest(records)
	return Decision{
		Kind:   manifest.Incremental,
		Parent: latest.Label,
		Reason: "chain from " + anchor.Label + " is within limits",
	}, nil
}
