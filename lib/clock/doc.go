// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the wall clock so time-dependent decisions
// can be tested deterministically.
//
// Production code injects [Real]; tests inject [Fake] and move time with
// [FakeClock.Advance] or [FakeClock.Set]. Manifest timestamps, anchor
// policy, and retention windows all read time through a [Clock].
package clock
