// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package retention plans which local btrfs snapshots to prune.
//
// Snapshots live under a root as <root>/<group>/<name>-YYYYMMDD_HHMM.
// Within each group, every snapshot newer than the window is kept; older
// snapshots keep only the earliest one per calendar month. Names without
// a recognizable timestamp are skipped, never deleted.
//
// Planning is pure: [Plan] reads directory names and returns decisions.
// Deleting subvolumes is the caller's job.
package retention

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"
)

const timestampLayout = "20060102_1504"

var timestampPattern = regexp.MustCompile(`-(\d{8}_\d{4})$`)

// Snapshot is one dated snapshot directory.
type Snapshot struct {
	Name string
	Path string
	Time time.Time
}

// Group is the plan for one subdirectory of the root.
type Group struct {
	Name   string
	Keep   []Snapshot
	Delete []Snapshot
	// Skipped lists entries whose names carry no timestamp.
	Skipped []string
}

// ParseTimestamp extracts the trailing -YYYYMMDD_HHMM timestamp from a
// snapshot name, interpreted in location.
func ParseTimestamp(name string, location *time.Location) (time.Time, bool) {
	match := timestampPattern.FindStringSubmatch(name)
	if match == nil {
		return time.Time{}, false
	}
	parsed, err := time.ParseInLocation(timestampLayout, match[1], location)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// Plan walks root and decides, per group, which snapshots to keep. A
// missing root yields no groups. Timestamps are read in now's location.
func Plan(root string, now time.Time, windowDays int) ([]Group, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot root %s: %w", root, err)
	}

	cutoff := now.AddDate(0, 0, -windowDays)
	var groups []Group
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		group, err := planGroup(filepath.Join(root, entry.Name()), entry.Name(), cutoff, now.Location())
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func planGroup(directory, name string, cutoff time.Time, location *time.Location) (Group, error) {
	group := Group{Name: name}
	entries, err := os.ReadDir(directory)
	if err != nil {
		return group, fmt.Errorf("reading snapshot group %s: %w", directory, err)
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		timestamp, ok := ParseTimestamp(entry.Name(), location)
		if !ok {
			group.Skipped = append(group.Skipped, entry.Name())
			continue
		}
		snapshots = append(snapshots, Snapshot{
			Name: entry.Name(),
			Path: filepath.Join(directory, entry.Name()),
			Time: timestamp,
		})
	}
	slices.SortStableFunc(snapshots, func(a, b Snapshot) int { return a.Time.Compare(b.Time) })

	type month struct {
		year  int
		month time.Month
	}
	keptMonths := make(map[month]bool)
	for _, snapshot := range snapshots {
		if snapshot.Time.After(cutoff) {
			group.Keep = append(group.Keep, snapshot)
			continue
		}
		key := month{snapshot.Time.Year(), snapshot.Time.Month()}
		if keptMonths[key] {
			group.Delete = append(group.Delete, snapshot)
			continue
		}
		keptMonths[key] = true
		group.Keep = append(group.Keep, snapshot)
	}
	return group, nil
}
