// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/bureau-foundation/devbackup/lib/fault"
	"github.com/bureau-foundation/devbackup/lib/label"
)

// RemoteKey is the object key the manifest is published under.
const RemoteKey = "manifests/snapshots_v2.tsv"

// Header is the fixed first row of every manifest.
var Header = []string{"ts", "label", "type", "parent", "bytes", "sha256", "local_path", "object_key"}

// Store reads and writes one manifest file.
type Store struct {
	path string
}

// NewStore returns a Store for the manifest at path. Nothing is touched
// on disk until a method is called.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the manifest file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the manifest file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// EnsureInitialized creates the manifest directory and a header-only
// file if the manifest does not exist. An existing file is left as is.
func (s *Store) EnsureInitialized() error {
	if s.Exists() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating manifest directory %s: %w", filepath.Dir(s.path), err)
	}
	file, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("creating manifest %s: %w", s.path, err)
	}
	if err := writeRows(file, nil); err != nil {
		file.Close()
		return fmt.Errorf("writing manifest header %s: %w", s.path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("syncing manifest %s: %w", s.path, err)
	}
	return file.Close()
}

// ReadRecords returns every row in file order. A missing file yields an
// empty slice; a malformed header or row is a validation fault naming
// the file and line.
func (s *Store) ReadRecords() ([]Record, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("opening manifest %s: %w", s.path, err)
	}
	defer file.Close()
	return Decode(file, s.path)
}

// AppendRecord writes one row at the end of the manifest and syncs it.
// A new, empty file gets the header first. The manifest directory must
// already exist.
func (s *Store) AppendRecord(record Record) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	directory := filepath.Dir(s.path)
	if _, err := os.Stat(directory); err != nil {
		return fault.NotFoundf("manifest directory %s: %w", directory, err)
	}

	file, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening manifest %s: %w", s.path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat manifest %s: %w", s.path, err)
	}

	writer := csv.NewWriter(file)
	writer.Comma = '\t'
	if info.Size() == 0 {
		if err := writer.Write(Header); err != nil {
			file.Close()
			return fmt.Errorf("writing manifest header %s: %w", s.path, err)
		}
	}
	if err := writer.Write(encodeRecord(record)); err != nil {
		file.Close()
		return fmt.Errorf("appending manifest record %s: %w", record.Label, err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return fmt.Errorf("flushing manifest %s: %w", s.path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("syncing manifest %s: %w", s.path, err)
	}
	return file.Close()
}

// WriteRecords replaces the whole manifest with records. The new
// content is written to a temporary file in the same directory, synced,
// and renamed over the manifest, so a failure leaves the previous file
// intact.
func (s *Store) WriteRecords(records []Record) error {
	for _, record := range records {
		if err := validateRecord(record); err != nil {
			return err
		}
	}

	directory := filepath.Dir(s.path)
	temporary, err := os.CreateTemp(directory, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary manifest in %s: %w", directory, err)
	}
	temporaryPath := temporary.Name()
	committed := false
	defer func() {
		if !committed {
			temporary.Close()
			os.Remove(temporaryPath)
		}
	}()

	if err := writeRows(temporary, records); err != nil {
		return fmt.Errorf("writing temporary manifest %s: %w", temporaryPath, err)
	}
	if err := temporary.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod temporary manifest %s: %w", temporaryPath, err)
	}
	if err := temporary.Sync(); err != nil {
		return fmt.Errorf("syncing temporary manifest %s: %w", temporaryPath, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("closing temporary manifest %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, s.path); err != nil {
		return fmt.Errorf("replacing manifest %s: %w", s.path, err)
	}
	committed = true

	return syncDirectory(directory)
}

func syncDirectory(path string) error {
	directory, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening manifest directory %s: %w", path, err)
	}
	defer directory.Close()
	if err := directory.Sync(); err != nil {
		return fmt.Errorf("syncing manifest directory %s: %w", path, err)
	}
	return nil
}

func writeRows(w io.Writer, records []Record) error {
	writer := csv.NewWriter(w)
	writer.Comma = '\t'
	if err := writer.Write(Header); err != nil {
		return err
	}
	for _, record := range records {
		if err := writer.Write(encodeRecord(record)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func encodeRecord(record Record) []string {
	return []string{
		record.Timestamp.Format(time.RFC3339Nano),
		record.Label,
		string(record.Kind),
		record.Parent,
		strconv.FormatUint(record.Bytes, 10),
		record.SHA256,
		record.LocalPath,
		record.ObjectKey,
	}
}

// Decode parses a manifest from r. name identifies the source in errors.
func Decode(r io.Reader, name string) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1

	records := []Record{}
	sawHeader := false
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fault.Validationf("parsing manifest %s: %w", name, err)
		}
		line, _ := reader.FieldPos(0)
		if !sawHeader {
			if !slices.Equal(fields, Header) {
				return nil, fault.Validationf("parsing manifest %s line %d: unexpected header %q", name, line, fields)
			}
			sawHeader = true
			continue
		}
		record, err := decodeRecord(fields)
		if err != nil {
			return nil, fault.Validationf("parsing manifest %s line %d: %w", name, line, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func decodeRecord(fields []string) (Record, error) {
	if len(fields) != len(Header) {
		return Record{}, fmt.Errorf("expected %d fields, got %d", len(Header), len(fields))
	}
	timestamp, err := time.Parse(time.RFC3339, fields[0])
	if err != nil {
		return Record{}, fmt.Errorf("invalid ts %q: %w", fields[0], err)
	}
	if !label.Valid(fields[1]) {
		return Record{}, fmt.Errorf("invalid label %q", fields[1])
	}
	kind := Kind(fields[2])
	if !kind.Valid() {
		return Record{}, fmt.Errorf("invalid type %q for %s", fields[2], fields[1])
	}
	if fields[3] != "" && !label.Valid(fields[3]) {
		return Record{}, fmt.Errorf("invalid parent %q for %s", fields[3], fields[1])
	}
	bytes, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid bytes %q for %s: %w", fields[4], fields[1], err)
	}
	return Record{
		Timestamp: timestamp,
		Label:     fields[1],
		Kind:      kind,
		Parent:    fields[3],
		Bytes:     bytes,
		SHA256:    fields[5],
		LocalPath: fields[6],
		ObjectKey: fields[7],
	}, nil
}

// validateRecord refuses to write rows that ReadRecords would reject.
func validateRecord(record Record) error {
	if err := label.Check(record.Label); err != nil {
		return err
	}
	if !record.Kind.Valid() {
		return fault.Validationf("record %s: invalid type %q", record.Label, record.Kind)
	}
	if record.Parent != "" {
		if err := label.Check(record.Parent); err != nil {
			return err
		}
	}
	if record.Timestamp.IsZero() {
		return fault.Validationf("record %s: missing timestamp", record.Label)
	}
	return nil
}
