// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault classifies backup engine errors so that callers can
// make decisions (fix input, resync, inspect a pipeline stage) without
// parsing message text.
//
// Every error raised by the engine's core packages carries a [Kind]:
//
//   - [Validation]: malformed label, artifact filename, or manifest row.
//   - [NotFound]: a label absent from the manifest, or a required file
//     missing on disk.
//   - [ChainIntegrity]: an incremental record with no parent, a parent
//     cycle, or a required object that was never synced.
//   - [PipelineStage]: a named external process exited non-zero.
//   - [Transport]: a remote upload or download failed.
//   - [NoAnchor]: policy evaluation over a non-empty manifest that has
//     no anchor record.
//
// None of these are retried by the engine. [KindOf] and [Is] walk the
// wrapped chain, so a fault survives any number of fmt.Errorf("...: %w")
// layers added by callers.
package fault
