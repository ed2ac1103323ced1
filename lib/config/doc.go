// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for dev-backup.
//
// Configuration is loaded from a single file: the path given with
// --config, else the DEV_BACKUP_CONFIG environment variable, else
// [DefaultPath]. Values from the file are merged over [Default].
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${STORAGE_ROOT}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// [Config.Validate] checks the values that are present. Which fields are
// required depends on the host role (a workstation needs a dataset, a
// storage host needs a storage root), so operations call
// [Config.Require] for the fields they use.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Cloud, Crypto, Remote, Tools,
//     Policy, Retention
//   - [Default] -- built-in defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
package config
