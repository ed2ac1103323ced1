// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material outside the Go heap.
//
// [Buffer] memory comes from an anonymous mmap, is locked against swap
// with mlock, and is excluded from core dumps with MADV_DONTDUMP. Close
// zeroes, unlocks and unmaps it; any later access panics.
//
// dev-backup keeps the age identity used for deep verification and the
// object-store secret key in Buffers. [ReadFile] loads either from disk
// and trims surrounding whitespace.
package secret
