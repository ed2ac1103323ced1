// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package label validates snapshot labels. A label names one backup
// cycle as a calendar month, "YYYY-MM", and is the primary key for
// manifest lookups as well as the identity embedded in snapshot and
// artifact names.
package label

import "github.com/bureau-foundation/devbackup/lib/fault"

// Latest is the sentinel accepted wherever a caller may ask for the
// most recent backup instead of naming a month.
const Latest = "latest"

// Valid reports whether s is exactly four ASCII digits, a hyphen, and
// two ASCII digits. Month range is not checked: "2024-13" is a valid
// label because the manifest treats labels as opaque keys.
func Valid(s string) bool {
	if len(s) != 7 || s[4] != '-' {
		return false
	}
	for index := 0; index < len(s); index++ {
		if index == 4 {
			continue
		}
		if s[index] < '0' || s[index] > '9' {
			return false
		}
	}
	return true
}

// Check returns a validation fault naming s when it is not a valid label.
func Check(s string) error {
	if !Valid(s) {
		return fault.Validationf("invalid label %q: must be YYYY-MM", s)
	}
	return nil
}

// CheckOrLatest accepts a valid label or the [Latest] sentinel.
func CheckOrLatest(s string) error {
	if s == Latest {
		return nil
	}
	return Check(s)
}
