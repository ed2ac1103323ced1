// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/devbackup/lib/fault"
)

const headerLine = "ts\tlabel\ttype\tparent\tbytes\tsha256\tlocal_path\tobject_key\n"

func sampleRecords() []Record {
	return []Record{
		{
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Label:     "2024-01",
			Kind:      Anchor,
			Bytes:     100,
			SHA256:    "deadbeef",
			LocalPath: "/ls/artifacts/anchors/dev@2024-01.full.send.zst.age",
		},
		{
			Timestamp: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			Label:     "2024-02",
			Kind:      Incremental,
			Parent:    "2024-01",
			Bytes:     50,
			SHA256:    "beadfeed",
			LocalPath: "/ls/artifacts/incr/dev@2024-02.incr.from_2024-01.send.zst.age",
		},
	}
}

func TestReadRecordsMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "manifests", "snapshots_v2.tsv"))
	records, err := store.ReadRecords()
	if err != nil {
		t.Fatalf("ReadRecords() error: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("ReadRecords() = %v, want empty non-nil slice", records)
	}
}

func TestEnsureInitializedWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifests", "snapshots_v2.tsv")
	store := NewStore(path)

	if err := store.EnsureInitialized(); err != nil {
		t.Fatalf("EnsureInitialized() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	if string(data) != headerLine {
		t.Errorf("manifest = %q, want header only", data)
	}

	if err := store.AppendRecord(sampleRecords()[0]); err != nil {
		t.Fatalf("AppendRecord() error: %v", err)
	}
	if err := store.EnsureInitialized(); err != nil {
		t.Fatalf("second EnsureInitialized() error: %v", err)
	}
	records, err := store.ReadRecords()
	if err != nil {
		t.Fatalf("ReadRecords() error: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("second EnsureInitialized() changed the manifest: %d records", len(records))
	}
}

func TestAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots_v2.tsv")
	store := NewStore(path)

	for _, record := range sampleRecords() {
		if err := store.AppendRecord(record); err != nil {
			t.Fatalf("AppendRecord(%s) error: %v", record.Label, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	want := headerLine +
		"2024-01-01T00:00:00Z\t2024-01\tanchor\t\t100\tdeadbeef\t/ls/artifacts/anchors/dev@2024-01.full.send.zst.age\t\n" +
		"2024-02-01T00:00:00Z\t2024-02\tincremental\t2024-01\t50\tbeadfeed\t/ls/artifacts/incr/dev@2024-02.incr.from_2024-01.send.zst.age\t\n"
	if string(data) != want {
		t.Errorf("manifest content:\n%s\nwant:\n%s", data, want)
	}

	records, err := store.ReadRecords()
	if err != nil {
		t.Fatalf("ReadRecords() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ReadRecords() returned %d records, want 2", len(records))
	}
	for index, want := range sampleRecords() {
		got := records[index]
		if !got.Timestamp.Equal(want.Timestamp) || got.Label != want.Label || got.Kind != want.Kind ||
			got.Parent != want.Parent || got.Bytes != want.Bytes || got.SHA256 != want.SHA256 ||
			got.LocalPath != want.LocalPath || got.ObjectKey != want.ObjectKey {
			t.Errorf("record %d = %+v, want %+v", index, got, want)
		}
	}
}

func TestAppendMissingDirectory(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent", "snapshots_v2.tsv"))
	err := store.AppendRecord(sampleRecords()[0])
	if err == nil {
		t.Fatal("AppendRecord() into a missing directory should fail")
	}
	if !fault.Is(err, fault.NotFound) {
		t.Errorf("AppendRecord() kind = %q, want not_found", fault.KindOf(err))
	}
}

func TestAppendRejectsInvalidRecord(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "snapshots_v2.tsv"))
	record := sampleRecords()[0]
	record.Label = "2024/01"
	if err := store.AppendRecord(record); !fault.Is(err, fault.Validation) {
		t.Errorf("AppendRecord(bad label) = %v, want validation fault", err)
	}
}

func TestReadRecordsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad header", "ts\tlabel\n"},
		{"short row", headerLine + "2024-01-01T00:00:00Z\t2024-01\tanchor\n"},
		{"bad timestamp", headerLine + "yesterday\t2024-01\tanchor\t\t1\tx\t/p\t\n"},
		{"bad type", headerLine + "2024-01-01T00:00:00Z\t2024-01\tfull\t\t1\tx\t/p\t\n"},
		{"bad bytes", headerLine + "2024-01-01T00:00:00Z\t2024-01\tanchor\t\t-1\tx\t/p\t\n"},
		{"bad label", headerLine + "2024-01-01T00:00:00Z\t24-01\tanchor\t\t1\tx\t/p\t\n"},
		{"bad parent", headerLine + "2024-01-01T00:00:00Z\t2024-02\tincremental\tjan\t1\tx\t/p\t\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snapshots_v2.tsv")
			if err := os.WriteFile(path, []byte(test.content), 0o644); err != nil {
				t.Fatalf("writing manifest: %v", err)
			}
			_, err := NewStore(path).ReadRecords()
			if err == nil {
				t.Fatal("ReadRecords() should fail")
			}
			if !fault.Is(err, fault.Validation) {
				t.Errorf("ReadRecords() kind = %q, want validation", fault.KindOf(err))
			}
			if !strings.Contains(err.Error(), path) {
				t.Errorf("error %q does not name the manifest path", err)
			}
		})
	}
}

func TestReadRecordsKeepsIncrementalWithoutParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots_v2.tsv")
	content := headerLine + "2024-02-01T00:00:00Z\t2024-02\tincremental\t\t1\tx\t/p\t\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	records, err := NewStore(path).ReadRecords()
	if err != nil {
		t.Fatalf("ReadRecords() error: %v", err)
	}
	if len(records) != 1 || records[0].Parent != "" {
		t.Errorf("ReadRecords() = %+v", records)
	}
}

func TestWriteRecordsReplaces(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "snapshots_v2.tsv")
	store := NewStore(path)
	for _, record := range sampleRecords() {
		if err := store.AppendRecord(record); err != nil {
			t.Fatalf("AppendRecord() error: %v", err)
		}
	}

	records, err := store.ReadRecords()
	if err != nil {
		t.Fatalf("ReadRecords() error: %v", err)
	}
	records[0].ObjectKey = "artifacts/anchors/dev@2024-01.full.send.zst.age"
	if err := store.WriteRecords(records); err != nil {
		t.Fatalf("WriteRecords() error: %v", err)
	}

	reread, err := store.ReadRecords()
	if err != nil {
		t.Fatalf("ReadRecords() error: %v", err)
	}
	if len(reread) != 2 || reread[0].ObjectKey != records[0].ObjectKey || reread[1].ObjectKey != "" {
		t.Errorf("after WriteRecords: %+v", reread)
	}

	entries, err := os.ReadDir(directory)
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestWriteRecordsInvalidLeavesFileIntact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots_v2.tsv")
	store := NewStore(path)
	if err := store.AppendRecord(sampleRecords()[0]); err != nil {
		t.Fatalf("AppendRecord() error: %v", err)
	}
	before, _ := os.ReadFile(path)

	bad := sampleRecords()
	bad[1].Kind = "bogus"
	if err := store.WriteRecords(bad); err == nil {
		t.Fatal("WriteRecords(invalid) should fail")
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Errorf("manifest changed after failed WriteRecords")
	}
}

func TestLatest(t *testing.T) {
	records := []Record{
		{Label: "2024-09", Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{Label: "2024-02", Timestamp: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{Label: "2024-03", Timestamp: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{Label: "2024-10", Timestamp: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
	}
	latest, ok := Latest(records)
	if !ok {
		t.Fatal("Latest() found nothing")
	}
	if latest.Label != "2024-03" {
		t.Errorf("Latest() = %s, want 2024-03 (max timestamp, last seen on tie)", latest.Label)
	}

	if _, ok := Latest(nil); ok {
		t.Error("Latest(nil) should report not found")
	}
}

func TestLatestByLabelLastWriteWins(t *testing.T) {
	records := []Record{
		{Label: "2024-01", SHA256: "first"},
		{Label: "2024-01", SHA256: "second"},
	}
	if got := LatestByLabel(records)["2024-01"].SHA256; got != "second" {
		t.Errorf("LatestByLabel()[2024-01].SHA256 = %q, want second", got)
	}
}
