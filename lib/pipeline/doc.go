// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline runs chains of external processes joined by OS
// pipes, the way a shell runs "a | b | c", with per-stage failure
// attribution.
//
// A pipeline is a list of [Stage] descriptors consumed by [Run]. Run
// creates one os.Pipe per junction, starts every stage before waiting
// on any of them, and closes the parent's copy of each pipe end as soon
// as the child owning it has started. That ordering is what lets EOF
// travel downstream and SIGPIPE travel upstream: a stage whose reader
// exits is terminated by the kernel rather than blocking forever.
//
// Failures come back as [*StageError] values naming the stage, its exit
// code or signal, and the tail of its stderr. When one stage fails and
// its upstream neighbours die of SIGPIPE as a consequence, only the
// failing stage is reported.
//
// Run never kills a stage on its own. A stage that hangs without exiting
// hangs the pipeline until the caller cancels the context.
//
// backup.go holds the concrete export, import, request and send
// pipelines built on btrfs, zstd and age.
package pipeline
