// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package verify checks artifacts on disk against their manifest
// records.
//
// A plain check recomputes the SHA-256 and size of each artifact file.
// A deep check additionally decrypts the artifact with the age identity
// and decodes the zstd stream in-process, proving the file can be read
// end to end without touching btrfs. Records are checked in parallel
// with a bounded number of goroutines; one failing artifact never stops
// the others.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"runtime"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/devbackup/lib/fault"
	"github.com/bureau-foundation/devbackup/lib/manifest"
	"github.com/bureau-foundation/devbackup/lib/sealed"
)

// HashFile returns the hex SHA-256 and size of the file at path.
func HashFile(path string) (string, uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", 0, fault.NotFoundf("artifact %s: %w", path, err)
		}
		return "", 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return "", 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), uint64(size), nil
}

// Options control a verification pass.
type Options struct {
	// Concurrency bounds parallel checks. Zero uses GOMAXPROCS.
	Concurrency int
	// Identities enable deep checks when non-empty.
	Identities []age.Identity
}

// Result is the outcome for one record. Err is nil when the artifact
// matched.
type Result struct {
	Record manifest.Record
	Deep   bool
	Err    error
}

// Records checks every record's local artifact and returns one Result
// per record in input order.
func Records(ctx context.Context, records []manifest.Record, options Options) []Result {
	limit := options.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	results := make([]Result, len(records))

	group, groupContext := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for index, record := range records {
		group.Go(func() error {
			results[index] = Result{
				Record: record,
				Deep:   len(options.Identities) > 0,
				Err:    check(groupContext, record, options.Identities),
			}
			return nil
		})
	}
	group.Wait()
	return results
}

// Failures joins the errors of every failed result, or returns nil.
func Failures(results []Result) error {
	var failures []error
	for _, result := range results {
		if result.Err != nil {
			failures = append(failures, result.Err)
		}
	}
	return errors.Join(failures...)
}

func check(ctx context.Context, record manifest.Record, identities []age.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.LocalPath == "" {
		return fault.NotFoundf("record %s has no local path", record.Label)
	}

	var (
		digest string
		size   uint64
		err    error
	)
	if len(identities) == 0 {
		digest, size, err = HashFile(record.LocalPath)
	} else {
		digest, size, err = deepHash(record.LocalPath, identities)
	}
	if err != nil {
		return fmt.Errorf("verifying %s: %w", record.Label, err)
	}

	if digest != record.SHA256 {
		return fault.ChainIntegrityf("artifact %s for %s: sha256 %s does not match manifest %s",
			record.LocalPath, record.Label, digest, record.SHA256)
	}
	if size != record.Bytes {
		return fault.ChainIntegrityf("artifact %s for %s: size %d does not match manifest %d",
			record.LocalPath, record.Label, size, record.Bytes)
	}
	return nil
}

// deepHash hashes the ciphertext while decrypting and decompressing it.
func deepHash(path string, identities []age.Identity) (string, uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", 0, fault.NotFoundf("artifact %s: %w", path, err)
		}
		return "", 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	counted := &countingReader{reader: io.TeeReader(file, hasher)}

	plaintext, err := sealed.Decrypt(counted, identities)
	if err != nil {
		return "", 0, fault.ChainIntegrityf("artifact %s: %w", path, err)
	}
	decoder, err := zstd.NewReader(plaintext)
	if err != nil {
		return "", 0, fmt.Errorf("creating zstd decoder for %s: %w", path, err)
	}
	defer decoder.Close()
	if _, err := io.Copy(io.Discard, decoder); err != nil {
		return "", 0, fault.ChainIntegrityf("artifact %s does not decode: %w", path, err)
	}

	// Anything after the age payload still counts toward the file hash.
	if _, err := io.Copy(io.Discard, counted); err != nil {
		return "", 0, fmt.Errorf("reading %s: %w", path, err)
	}
	return digestOf(hasher), counted.count, nil
}

func digestOf(hasher hash.Hash) string {
	return hex.EncodeToString(hasher.Sum(nil))
}

type countingReader struct {
	reader io.Reader
	count  uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.count += uint64(n)
	return n, err
}
