// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the binary entrypoint's error reporting: the
// one place that writes raw output to stderr and chooses the process
// exit code, before or after the structured logger exists.
package process
