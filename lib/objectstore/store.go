// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/devbackup/lib/fault"
)

// Store is a put/get object interface keyed by slash-separated paths.
type Store interface {
	// Put uploads the file at path under key, replacing any object
	// already there.
	Put(ctx context.Context, key, path string) error
	// Get downloads key to path, creating parent directories.
	Get(ctx context.Context, key, path string) error
	Close() error
}

// Provider selects a backend.
type Provider string

const (
	ProviderS3        Provider = "s3"
	ProviderGCS       Provider = "gcs"
	ProviderDirectory Provider = "file"
)

// Config describes how to reach the remote store.
type Config struct {
	Provider Provider
	Bucket   string
	// Endpoint overrides the S3 endpoint, for R2 or MinIO.
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	// SecretKeyFile holds the secret key in place of SecretKey. It is
	// read into protected memory only when credentials are built.
	SecretKeyFile string
	// CredentialsFile is a GCS service-account key. Empty uses
	// application default credentials.
	CredentialsFile string
	// Directory is the root of a ProviderDirectory store.
	Directory string
}

// New constructs the backend named by config.Provider.
func New(ctx context.Context, config Config) (Store, error) {
	switch config.Provider {
	case ProviderS3:
		return NewS3(ctx, config)
	case ProviderGCS:
		return NewGCS(ctx, config)
	case ProviderDirectory:
		return NewDirectory(config.Directory)
	case "":
		return nil, fault.Validationf("no object store configured (cloud.provider is empty)")
	default:
		return nil, fault.Validationf("unknown object store provider %q", config.Provider)
	}
}

// CleanKey validates key and returns it without leading slashes.
func CleanKey(key string) (string, error) {
	cleaned := strings.TrimLeft(key, "/")
	if cleaned == "" {
		return "", fault.Validationf("empty object key %q", key)
	}
	for _, segment := range strings.Split(cleaned, "/") {
		if segment == ".." {
			return "", fault.Validationf("object key %q escapes its root", key)
		}
	}
	return cleaned, nil
}

// writeFile streams source into path through a temporary file in the
// same directory.
func writeFile(path string, source io.Reader) error {
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", directory, err)
	}
	temporary, err := os.CreateTemp(directory, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("creating temporary file in %s: %w", directory, err)
	}
	committed := false
	defer func() {
		if !committed {
			temporary.Close()
			os.Remove(temporary.Name())
		}
	}()

	if _, err := io.Copy(temporary, source); err != nil {
		return err
	}
	if err := temporary.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", temporary.Name(), err)
	}
	if err := temporary.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", temporary.Name(), err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", temporary.Name(), err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	committed = true
	return nil
}

func openUpload(key, path string) (*os.File, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fault.NotFoundf("uploading %s: %w", key, err)
		}
		return nil, 0, fmt.Errorf("uploading %s: %w", key, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("uploading %s: %w", key, err)
	}
	return file, info.Size(), nil
}
