// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the dev-backup binary.
//
// [GitCommit], [GitDirty], [BuildTime], and [Version] are injected with
// -ldflags -X at release time:
//
//	go build -ldflags "-X github.com/bureau-foundation/devbackup/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When they are not injected, [Info] falls back to the VCS stamp the Go
// toolchain embeds in the binary.
package version
