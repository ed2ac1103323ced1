// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/devbackup/lib/fault"
)

// Directory stores each object as root/<key>.
type Directory struct {
	root string
}

// NewDirectory returns a Directory rooted at root, creating it if
// needed.
func NewDirectory(root string) (*Directory, error) {
	if root == "" {
		return nil, fault.Validationf("file object store requires cloud.directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fault.Transportf("creating object directory %s: %w", root, err)
	}
	return &Directory{root: root}, nil
}

func (d *Directory) objectPath(key string) (string, string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return key, filepath.Join(d.root, filepath.FromSlash(key)), nil
}

// Put copies path to root/<key>.
func (d *Directory) Put(ctx context.Context, key, path string) error {
	key, destination, err := d.objectPath(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	file, _, err := openUpload(key, path)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := writeFile(destination, file); err != nil {
		return fault.Transportf("storing %s as %s: %w", path, key, err)
	}
	return nil
}

// Get copies root/<key> to path.
func (d *Directory) Get(ctx context.Context, key, path string) error {
	key, source, err := d.objectPath(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	file, err := os.Open(source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fault.NotFoundf("object %s does not exist in %s", key, d.root)
		}
		return fault.Transportf("opening object %s: %w", key, err)
	}
	defer file.Close()
	if err := writeFile(path, file); err != nil {
		return fault.Transportf("fetching %s to %s: %w", key, path, err)
	}
	return nil
}

// Close is a no-op.
func (d *Directory) Close() error { return nil }
