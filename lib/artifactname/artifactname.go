// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifactname encodes and decodes artifact identity in
// filenames. The filename is the source of truth for registration: an
// artifact whose name does not parse cannot enter the manifest.
//
// Two grammars exist:
//
//	dev@<label>.full.send.zst.age                     anchor
//	dev@<label>.incr.from_<parent>.send.zst.age       incremental
//
// Both embedded labels must be valid YYYY-MM labels, and an incremental
// never names itself as its parent.
package artifactname

import (
	"strings"

	"github.com/bureau-foundation/devbackup/lib/fault"
	"github.com/bureau-foundation/devbackup/lib/label"
	"github.com/bureau-foundation/devbackup/lib/manifest"
)

const (
	// SnapshotPrefix prefixes every snapshot directory and artifact name.
	SnapshotPrefix = "dev@"

	anchorSuffix      = ".full.send.zst.age"
	incrementalSuffix = ".send.zst.age"
	parentSeparator   = ".incr.from_"
)

// Reference is the identity parsed from an artifact filename.
type Reference struct {
	Label    string
	Kind     manifest.Kind
	Parent   string
	Filename string
}

// Parse decodes filename. The second return is false for anything that
// does not match exactly one grammar; Parse never guesses.
func Parse(filename string) (Reference, bool) {
	if middle, ok := trimAround(filename, SnapshotPrefix, anchorSuffix); ok && label.Valid(middle) {
		return Reference{
			Label:    middle,
			Kind:     manifest.Anchor,
			Filename: filename,
		}, true
	}

	middle, ok := trimAround(filename, SnapshotPrefix, incrementalSuffix)
	if !ok || strings.Count(middle, parentSeparator) != 1 {
		return Reference{}, false
	}
	child, parent, _ := strings.Cut(middle, parentSeparator)
	if !label.Valid(child) || !label.Valid(parent) || child == parent {
		return Reference{}, false
	}
	return Reference{
		Label:    child,
		Kind:     manifest.Incremental,
		Parent:   parent,
		Filename: filename,
	}, true
}

// Build returns the artifact filename for label. An empty parent names
// an anchor; otherwise an incremental from parent.
func Build(childLabel, parent string) (string, error) {
	if err := label.Check(childLabel); err != nil {
		return "", err
	}
	if parent == "" {
		return SnapshotPrefix + childLabel + anchorSuffix, nil
	}
	if err := label.Check(parent); err != nil {
		return "", err
	}
	if parent == childLabel {
		return "", fault.Validationf("incremental %s cannot be its own parent", childLabel)
	}
	return SnapshotPrefix + childLabel + parentSeparator + parent + incrementalSuffix, nil
}

// SnapshotName returns the snapshot directory name for a label.
func SnapshotName(snapshotLabel string) string {
	return SnapshotPrefix + snapshotLabel
}

func trimAround(s, prefix, suffix string) (string, bool) {
	if len(s) < len(prefix)+len(suffix) || !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, suffix) {
		return "", false
	}
	return s[len(prefix) : len(s)-len(suffix)], true
}
