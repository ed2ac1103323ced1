// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package btrfs provides typed access to the btrfs CLI for the
// subvolume operations dev-backup needs: read-only and writable
// snapshots, subvolume deletion, and subvolume detection. Send and
// receive streams are not run here; they are pipeline stages (see
// lib/pipeline).
//
// [IsBtrfs] checks the filesystem type with statfs(2) directly so
// workstation setup can fail early without invoking the CLI.
package btrfs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// superMagic is BTRFS_SUPER_MAGIC from linux/magic.h.
const superMagic = 0x9123683E

// Client runs btrfs subcommands.
type Client struct {
	binary string
}

// NewClient returns a Client invoking binary. An empty binary means
// "btrfs" from PATH.
func NewClient(binary string) *Client {
	if binary == "" {
		binary = "btrfs"
	}
	return &Client{binary: binary}
}

// Binary returns the program the client invokes.
func (c *Client) Binary() string {
	return c.binary
}

// Run executes a btrfs command and returns stdout. Stderr is captured
// separately and included in the error on failure.
func (c *Client) Run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, c.binary, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w (stderr: %s)",
			c.binary, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Snapshot creates a snapshot of source at destination. readOnly
// selects "-r", which btrfs send requires.
func (c *Client) Snapshot(ctx context.Context, source, destination string, readOnly bool) error {
	args := []string{"subvolume", "snapshot"}
	if readOnly {
		args = append(args, "-r")
	}
	_, err := c.Run(ctx, append(args, source, destination)...)
	return err
}

// Delete removes the subvolume at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.Run(ctx, "subvolume", "delete", path)
	return err
}

// IsSubvolume reports whether path is a btrfs subvolume.
func (c *Client) IsSubvolume(ctx context.Context, path string) bool {
	_, err := c.Run(ctx, "subvolume", "show", path)
	return err == nil
}

// IsBtrfs reports whether path lives on a btrfs filesystem.
func IsBtrfs(path string) (bool, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return false, fmt.Errorf("statfs %s: %w", path, err)
	}
	return uint64(stat.Type) == superMagic, nil
}
