// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command framework for dev-backup.
//
// The central type is [Command], a named node with optional
// [Command.Subcommands], a [pflag.FlagSet] factory, and a Run function.
// The tree is assembled in cmd/dev-backup/commands and dispatched via
// [Command.Execute], which handles flag parsing, subcommand routing, and
// help output with examples. Flags given before a subcommand name belong
// to the command that owns them, which is how the root carries --config
// and --verbose.
//
// Unknown subcommands and flags get a suggestion when the Levenshtein
// distance to a known name is at most 3.
//
// [FlagsFromParams] builds a flag set from struct tags so each command
// declares its flags as a params struct.
package cli
