// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/bureau-foundation/devbackup/lib/verify"
)

// Set via -ldflags at build time.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// buildInfo is replaced in tests.
var buildInfo = debug.ReadBuildInfo

// stamp returns the commit, dirty flag, and build time, preferring the
// ldflags values and falling back to the embedded VCS settings.
func stamp() (commit string, dirty bool, built string) {
	commit, dirty, built = GitCommit, GitDirty == "true", BuildTime
	if commit != "unknown" {
		return commit, dirty, built
	}
	info, ok := buildInfo()
	if !ok {
		return commit, dirty, built
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
			if len(commit) > 12 {
				commit = commit[:12]
			}
		case "vcs.modified":
			dirty = setting.Value == "true"
		case "vcs.time":
			if built == "unknown" {
				built = setting.Value
			}
		}
	}
	return commit, dirty, built
}

// Info returns "0.1.0-dev (abc1234, 2026-02-10T00:00:00Z)" for the
// version command.
func Info() string {
	commit, dirty, built := stamp()
	suffix := ""
	if dirty {
		suffix = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, commit, suffix, built)
}

// Full returns [Info] plus the Go version and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// ExecutableDigest returns the SHA-256 of the running binary and its
// path, so a workstation and a storage host can confirm they run the
// same build before a request.
func ExecutableDigest() (digest string, path string, err error) {
	path, err = os.Executable()
	if err != nil {
		return "", "", fmt.Errorf("resolving executable: %w", err)
	}
	digest, _, err = verify.HashFile(path)
	if err != nil {
		return "", path, err
	}
	return digest, path, nil
}
