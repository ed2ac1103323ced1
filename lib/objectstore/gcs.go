// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"errors"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/bureau-foundation/devbackup/lib/fault"
)

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS builds a client from config.
func NewGCS(ctx context.Context, config Config) (*GCS, error) {
	if config.Bucket == "" {
		return nil, fault.Validationf("gcs object store requires a bucket")
	}
	var options []option.ClientOption
	if config.CredentialsFile != "" {
		if _, err := os.Stat(config.CredentialsFile); err != nil {
			return nil, fault.NotFoundf("gcs credentials file %s: %w", config.CredentialsFile, err)
		}
		options = append(options, option.WithCredentialsFile(config.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, options...)
	if err != nil {
		return nil, fault.Transportf("creating gcs client: %w", err)
	}
	return &GCS{client: client, bucket: config.Bucket}, nil
}

// Put uploads path under key.
func (g *GCS) Put(ctx context.Context, key, path string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	file, _, err := openUpload(key, path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	if _, err := io.Copy(writer, file); err != nil {
		writer.Close()
		return fault.Transportf("uploading %s to gs://%s/%s: %w", path, g.bucket, key, err)
	}
	if err := writer.Close(); err != nil {
		return fault.Transportf("finishing upload of %s to gs://%s/%s: %w", path, g.bucket, key, err)
	}
	return nil
}

// Get downloads key to path.
func (g *GCS) Get(ctx context.Context, key, path string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	reader, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fault.NotFoundf("gs://%s/%s does not exist", g.bucket, key)
		}
		return fault.Transportf("downloading gs://%s/%s: %w", g.bucket, key, err)
	}
	defer reader.Close()

	if err := writeFile(path, reader); err != nil {
		return fault.Transportf("downloading gs://%s/%s to %s: %w", g.bucket, key, path, err)
	}
	return nil
}

// Close releases the client.
func (g *GCS) Close() error {
	return g.client.Close()
}
