// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/devbackup/lib/artifactname"
	"github.com/bureau-foundation/devbackup/lib/clock"
	"github.com/bureau-foundation/devbackup/lib/config"
	"github.com/bureau-foundation/devbackup/lib/fault"
	"github.com/bureau-foundation/devbackup/lib/manifest"
	"github.com/bureau-foundation/devbackup/lib/objectstore"
	"github.com/bureau-foundation/devbackup/lib/pipeline"
	"github.com/bureau-foundation/devbackup/lib/testutil"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type snapshotCall struct {
	source      string
	destination string
	readOnly    bool
}

// fakeSubvolumes models subvolumes as plain directories.
type fakeSubvolumes struct {
	snapshots  []snapshotCall
	deleted    []string
	subvolumes map[string]bool
}

func (f *fakeSubvolumes) Snapshot(ctx context.Context, source, destination string, readOnly bool) error {
	f.snapshots = append(f.snapshots, snapshotCall{source, destination, readOnly})
	f.subvolumes[destination] = true
	return os.MkdirAll(destination, 0o755)
}

func (f *fakeSubvolumes) Delete(ctx context.Context, path string) error {
	f.deleted = append(f.deleted, path)
	delete(f.subvolumes, path)
	return os.RemoveAll(path)
}

func (f *fakeSubvolumes) IsSubvolume(ctx context.Context, path string) bool {
	return f.subvolumes[path]
}

// fakeRunner records every pipeline and hands it to effect, which
// simulates the pipeline's side effects.
type fakeRunner struct {
	runs   [][]pipeline.Stage
	effect func(stages []pipeline.Stage) error
}

func (f *fakeRunner) run(ctx context.Context, stages []pipeline.Stage) error {
	f.runs = append(f.runs, stages)
	if f.effect == nil {
		return nil
	}
	return f.effect(stages)
}

type harness struct {
	engine     *Engine
	config     *config.Config
	clock      *clock.FakeClock
	subvolumes *fakeSubvolumes
	runner     *fakeRunner
	remote     *objectstore.Memory
	onBtrfs    bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths = config.PathsConfig{
		Dataset:     filepath.Join(root, "dataset"),
		Snapshots:   filepath.Join(root, "snapshots"),
		StorageRoot: filepath.Join(root, "ls"),
	}
	cfg.Crypto = config.CryptoConfig{
		RecipientsFile: cfg.RecipientsPath(),
		IdentityFile:   cfg.IdentityPath(),
	}
	cfg.Retention.Root = filepath.Join(root, "retention")

	h := &harness{
		config:     cfg,
		clock:      clock.Fake(testNow),
		subvolumes: &fakeSubvolumes{subvolumes: make(map[string]bool)},
		runner:     &fakeRunner{},
		remote:     objectstore.NewMemory(),
		onBtrfs:    true,
	}
	h.engine = &Engine{
		Config:     cfg,
		Clock:      h.clock,
		Subvolumes: h.subvolumes,
		IsBtrfs:    func(string) (bool, error) { return h.onBtrfs, nil },
		Run:        h.runner.run,
		Remote: func(context.Context) (objectstore.Store, error) {
			return h.remote, nil
		},
		Logger: testutil.Logger(t),
	}
	return h
}

func (h *harness) initStorage(t *testing.T) {
	t.Helper()
	if _, err := h.engine.InitStorage(); err != nil {
		t.Fatalf("InitStorage: %v", err)
	}
}

// writeChain registers an anchor 2024-01 and an incremental 2024-02 in
// the storage root's manifest.
func (h *harness) writeChain(t *testing.T) []manifest.Record {
	t.Helper()
	root := h.config.Paths.StorageRoot
	records := []manifest.Record{
		testutil.WriteArtifact(t, root, "2024-01", "", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), []byte("anchor stream")),
		testutil.WriteArtifact(t, root, "2024-02", "2024-01", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), []byte("incr stream")),
	}
	if err := manifest.NewStore(h.config.ManifestPath()).WriteRecords(records); err != nil {
		t.Fatalf("WriteRecords: %v", err)
	}
	return records
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("MkdirAll(%s): %v", path, err)
	}
}

// writeExportOutput is a runner effect that creates the file the
// encrypt stage would write.
func writeExportOutput(stages []pipeline.Stage) error {
	encrypt := stages[len(stages)-1]
	return os.WriteFile(encrypt.Args[len(encrypt.Args)-1], []byte("ciphertext"), 0o644)
}

func labels(records []manifest.Record) []string {
	var result []string
	for _, record := range records {
		result = append(result, record.Label)
	}
	return result
}

func TestInitStorage(t *testing.T) {
	h := newHarness(t)

	result, err := h.engine.InitStorage()
	if err != nil {
		t.Fatalf("InitStorage: %v", err)
	}
	if !result.KeypairCreated {
		t.Error("first InitStorage did not create a keypair")
	}
	for _, directory := range h.config.StorageLayout() {
		info, err := os.Stat(directory)
		if err != nil || !info.IsDir() {
			t.Errorf("layout directory %s missing: %v", directory, err)
		}
	}
	data, err := os.ReadFile(h.config.ManifestPath())
	if err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	if want := "ts\tlabel\ttype\tparent\tbytes\tsha256\tlocal_path\tobject_key\n"; string(data) != want {
		t.Errorf("manifest = %q, want header only", data)
	}
	info, err := os.Stat(h.config.Crypto.IdentityFile)
	if err != nil {
		t.Fatalf("identity file: %v", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		t.Errorf("identity file mode = %v, want owner-only", info.Mode().Perm())
	}
	if _, err := os.Stat(h.config.Crypto.RecipientsFile); err != nil {
		t.Errorf("recipients file: %v", err)
	}

	again, err := h.engine.InitStorage()
	if err != nil {
		t.Fatalf("second InitStorage: %v", err)
	}
	if again.KeypairCreated {
		t.Error("second InitStorage replaced the keypair")
	}
}

func TestInitStorageRequiresRoot(t *testing.T) {
	h := newHarness(t)
	h.config.Paths.StorageRoot = ""
	_, err := h.engine.InitStorage()
	if !fault.Is(err, fault.Validation) {
		t.Fatalf("InitStorage without storage root = %v, want validation fault", err)
	}
}

func TestInitWorkstation(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.InitWorkstation(); !fault.Is(err, fault.NotFound) {
		t.Fatalf("InitWorkstation with missing dataset = %v, want not-found fault", err)
	}

	mkdir(t, h.config.Paths.Dataset)
	h.onBtrfs = false
	if err := h.engine.InitWorkstation(); !fault.Is(err, fault.Validation) {
		t.Fatalf("InitWorkstation off btrfs = %v, want validation fault", err)
	}

	h.onBtrfs = true
	if err := h.engine.InitWorkstation(); err != nil {
		t.Fatalf("InitWorkstation: %v", err)
	}
	if _, err := os.Stat(h.config.Paths.Snapshots); err != nil {
		t.Errorf("snapshots directory not created: %v", err)
	}
}

func TestSnapshotIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	path, created, err := h.engine.Snapshot(ctx, "2024-03")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !created {
		t.Error("first Snapshot reported created = false")
	}
	want := filepath.Join(h.config.Paths.Snapshots, "dev@2024-03")
	if path != want {
		t.Errorf("path = %s, want %s", path, want)
	}

	if _, created, err := h.engine.Snapshot(ctx, "2024-03"); err != nil || created {
		t.Fatalf("second Snapshot = (created %v, %v), want existing snapshot left alone", created, err)
	}
	if len(h.subvolumes.snapshots) != 1 {
		t.Fatalf("snapshot calls = %d, want 1", len(h.subvolumes.snapshots))
	}
	call := h.subvolumes.snapshots[0]
	if call.source != h.config.Paths.Dataset || !call.readOnly {
		t.Errorf("snapshot call = %+v, want read-only snapshot of the dataset", call)
	}
}

func TestSnapshotRejectsInvalidLabel(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.engine.Snapshot(context.Background(), "2024-3"); !fault.Is(err, fault.Validation) {
		t.Fatalf("Snapshot(2024-3) = %v, want validation fault", err)
	}
}

func TestBuildArtifactIncremental(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	mkdir(t, filepath.Join(h.config.Paths.Snapshots, "dev@2024-01"))
	mkdir(t, filepath.Join(h.config.Paths.Snapshots, "dev@2024-02"))
	h.runner.effect = writeExportOutput

	outputDirectory := t.TempDir()
	path, err := h.engine.BuildArtifact(context.Background(), "2024-02", "2024-01", outputDirectory)
	if err != nil {
		t.Fatalf("BuildArtifact: %v", err)
	}
	if want := filepath.Join(outputDirectory, "dev@2024-02.incr.from_2024-01.send.zst.age"); path != want {
		t.Errorf("path = %s, want %s", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("artifact not written: %v", err)
	}

	stages := h.runner.runs[0]
	wantExport := []string{"send", "-p",
		filepath.Join(h.config.Paths.Snapshots, "dev@2024-01"),
		filepath.Join(h.config.Paths.Snapshots, "dev@2024-02")}
	if !slices.Equal(stages[0].Args, wantExport) {
		t.Errorf("export args = %v, want %v", stages[0].Args, wantExport)
	}
	if stages[2].Args[1] != h.config.Crypto.RecipientsFile {
		t.Errorf("encrypt recipients = %s, want %s", stages[2].Args[1], h.config.Crypto.RecipientsFile)
	}
}

func TestBuildArtifactMissingParent(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	mkdir(t, filepath.Join(h.config.Paths.Snapshots, "dev@2024-02"))

	_, err := h.engine.BuildArtifact(context.Background(), "2024-02", "2024-01", t.TempDir())
	if !fault.Is(err, fault.NotFound) {
		t.Fatalf("BuildArtifact without parent snapshot = %v, want not-found fault", err)
	}
	if len(h.runner.runs) != 0 {
		t.Error("pipeline ran despite missing parent")
	}
}

func TestBuildArtifactRemovesPartialOutput(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	mkdir(t, filepath.Join(h.config.Paths.Snapshots, "dev@2024-01"))
	h.runner.effect = func(stages []pipeline.Stage) error {
		if err := writeExportOutput(stages); err != nil {
			return err
		}
		return &pipeline.StageError{Stage: "compress", Index: 1, ExitCode: 1}
	}

	outputDirectory := t.TempDir()
	_, err := h.engine.BuildArtifact(context.Background(), "2024-01", "", outputDirectory)
	if !fault.Is(err, fault.PipelineStage) {
		t.Fatalf("BuildArtifact = %v, want pipeline-stage fault", err)
	}
	var stageError *pipeline.StageError
	if !errors.As(err, &stageError) || stageError.Stage != "compress" {
		t.Errorf("error %v does not name the compress stage", err)
	}
	if _, err := os.Stat(filepath.Join(outputDirectory, "dev@2024-01.full.send.zst.age")); !os.IsNotExist(err) {
		t.Errorf("partial artifact left behind: %v", err)
	}
}

func TestRegister(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)

	incoming := filepath.Join(t.TempDir(), "dev@2024-01.full.send.zst.age")
	if err := os.WriteFile(incoming, []byte("anchor"), 0o644); err != nil {
		t.Fatal(err)
	}
	record, err := h.engine.Register(incoming)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	wantPath := filepath.Join(h.config.AnchorsDir(), "dev@2024-01.full.send.zst.age")
	if record.LocalPath != wantPath {
		t.Errorf("LocalPath = %s, want %s", record.LocalPath, wantPath)
	}
	if _, err := os.Stat(incoming); !os.IsNotExist(err) {
		t.Error("artifact was copied instead of moved")
	}
	if record.Kind != manifest.Anchor || record.Bytes != 6 || !record.Timestamp.Equal(testNow) {
		t.Errorf("record = %+v", record)
	}
	if want := "79bfb0e2ba76b9d447606ddbcc494834f05a4c11deb052e74b49ea307a3c5bcd"; record.SHA256 != want {
		t.Errorf("SHA256 = %s, want %s", record.SHA256, want)
	}

	records, err := manifest.NewStore(h.config.ManifestPath()).ReadRecords()
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(records) != 1 || records[0].Label != "2024-01" || records[0].SHA256 != record.SHA256 {
		t.Errorf("manifest records = %+v", records)
	}
}

func TestRegisterIncrementalDestination(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)

	incoming := filepath.Join(t.TempDir(), "dev@2024-02.incr.from_2024-01.send.zst.age")
	if err := os.WriteFile(incoming, []byte("incr"), 0o644); err != nil {
		t.Fatal(err)
	}
	record, err := h.engine.Register(incoming)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if filepath.Dir(record.LocalPath) != h.config.IncrementalsDir() {
		t.Errorf("incremental registered in %s, want %s", filepath.Dir(record.LocalPath), h.config.IncrementalsDir())
	}
	if record.Kind != manifest.Incremental || record.Parent != "2024-01" {
		t.Errorf("record = %+v", record)
	}
}

func TestRegisterRefusesOverwrite(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)

	name := "dev@2024-01.full.send.zst.age"
	first := filepath.Join(t.TempDir(), name)
	second := filepath.Join(t.TempDir(), name)
	for _, path := range []string{first, second} {
		if err := os.WriteFile(path, []byte(path), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := h.engine.Register(first); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := h.engine.Register(second); !fault.Is(err, fault.Validation) {
		t.Fatalf("second Register = %v, want validation fault", err)
	}
	if _, err := os.Stat(second); err != nil {
		t.Errorf("refused artifact was moved: %v", err)
	}
	records, err := manifest.NewStore(h.config.ManifestPath()).ReadRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("manifest has %d records, want 1", len(records))
	}
}

func TestRegisterRestoresArtifactWhenAppendFails(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	source := filepath.Join(t.TempDir(), "dev@2024-01.full.send.zst.age")
	if err := os.WriteFile(source, []byte("anchor"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A zero timestamp makes the manifest reject the row.
	h.clock.Set(time.Time{})
	if _, err := h.engine.Register(source); err == nil {
		t.Fatal("Register with an unstampable record succeeded")
	}
	if _, err := os.Stat(source); err != nil {
		t.Errorf("artifact not returned to %s: %v", source, err)
	}
	if _, err := os.Stat(filepath.Join(h.config.AnchorsDir(), filepath.Base(source))); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("artifact left in the storage root: %v", err)
	}

	h.clock.Set(testNow)
	record, err := h.engine.Register(source)
	if err != nil {
		t.Fatalf("retried Register: %v", err)
	}
	if record.Label != "2024-01" {
		t.Errorf("retried record = %+v", record)
	}
}

func TestRegisterRejectsBadName(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)

	incoming := filepath.Join(t.TempDir(), "backup.tar.zst")
	if err := os.WriteFile(incoming, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Register(incoming); !fault.Is(err, fault.Validation) {
		t.Fatalf("Register(backup.tar.zst) = %v, want validation fault", err)
	}
}

func TestPlan(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	records := h.writeChain(t)

	plan, err := h.engine.Plan("2024-02")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan) != 2 || plan[0].LocalPath != records[0].LocalPath || plan[1].LocalPath != records[1].LocalPath {
		t.Fatalf("plan = %v, want anchor then incremental", labels(plan))
	}

	mkdir(t, filepath.Join(h.config.RestoreSnapshotsDir(), "dev@2024-01"))
	plan, err = h.engine.Plan("2024-02")
	if err != nil {
		t.Fatalf("Plan with hydrated parent: %v", err)
	}
	if !slices.Equal(labels(plan), []string{"2024-02"}) {
		t.Errorf("plan with hydrated parent = %v, want [2024-02]", labels(plan))
	}
}

func TestPlanEmptyManifest(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	if _, err := h.engine.Plan("latest"); !fault.Is(err, fault.NotFound) {
		t.Fatalf("Plan on empty manifest = %v, want not-found fault", err)
	}
}

// receiveImport is a runner effect that creates the snapshot btrfs
// receive would produce for the artifact being imported.
func receiveImport(stages []pipeline.Stage) error {
	decrypt := stages[0]
	input := decrypt.Args[len(decrypt.Args)-1]
	reference, ok := artifactname.Parse(filepath.Base(input))
	if !ok {
		return errors.New("unexpected artifact " + input)
	}
	receive := stages[len(stages)-1]
	directory := receive.Args[len(receive.Args)-1]
	return os.MkdirAll(filepath.Join(directory, artifactname.SnapshotName(reference.Label)), 0o755)
}

func TestHydrate(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	records := h.writeChain(t)
	h.runner.effect = receiveImport
	ctx := context.Background()

	result, err := h.engine.Hydrate(ctx, "latest")
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if !slices.Equal(result.Received, []string{"2024-01", "2024-02"}) {
		t.Errorf("Received = %v, want [2024-01 2024-02]", result.Received)
	}
	wantDecrypt := []string{"-d", "-i", h.config.Crypto.IdentityFile, records[0].LocalPath}
	if !slices.Equal(h.runner.runs[0][0].Args, wantDecrypt) {
		t.Errorf("decrypt args = %v, want %v", h.runner.runs[0][0].Args, wantDecrypt)
	}

	// Everything is hydrated now, so the plan collapses to the target,
	// which is already present.
	again, err := h.engine.Hydrate(ctx, "2024-02")
	if err != nil {
		t.Fatalf("second Hydrate: %v", err)
	}
	if len(again.Received) != 0 || !slices.Equal(again.Present, []string{"2024-02"}) {
		t.Errorf("second Hydrate = %+v, want only 2024-02 present", again)
	}
	if len(h.runner.runs) != 2 {
		t.Errorf("pipelines run = %d, want 2", len(h.runner.runs))
	}
}

func TestHydrateMissingArtifact(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	records := h.writeChain(t)
	if err := os.Remove(records[0].LocalPath); err != nil {
		t.Fatal(err)
	}
	h.runner.effect = receiveImport

	if _, err := h.engine.Hydrate(context.Background(), "2024-02"); !fault.Is(err, fault.NotFound) {
		t.Fatalf("Hydrate with missing anchor = %v, want not-found fault", err)
	}
	if len(h.runner.runs) != 0 {
		t.Error("pipeline ran despite missing artifact")
	}
}

func TestHydrateWithoutReceivedSnapshot(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	h.writeChain(t)

	if _, err := h.engine.Hydrate(context.Background(), "2024-01"); !fault.Is(err, fault.NotFound) {
		t.Fatalf("Hydrate where receive produced nothing = %v, want not-found fault", err)
	}
}

func TestApplyReplacesSubvolume(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	h.writeChain(t)
	restore := filepath.Join(h.config.RestoreSnapshotsDir(), "dev@2024-02")
	mkdir(t, restore)
	mkdir(t, h.config.Paths.Dataset)
	h.subvolumes.subvolumes[h.config.Paths.Dataset] = true

	resolved, err := h.engine.Apply(context.Background(), "latest")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if resolved != "2024-02" {
		t.Errorf("resolved = %s, want 2024-02", resolved)
	}
	if !slices.Equal(h.subvolumes.deleted, []string{h.config.Paths.Dataset}) {
		t.Errorf("deleted = %v, want the dataset", h.subvolumes.deleted)
	}
	want := snapshotCall{source: restore, destination: h.config.Paths.Dataset, readOnly: false}
	if len(h.subvolumes.snapshots) != 1 || h.subvolumes.snapshots[0] != want {
		t.Errorf("snapshots = %+v, want %+v", h.subvolumes.snapshots, want)
	}
}

func TestApplyMovesPlainDirectoryAside(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	h.writeChain(t)
	mkdir(t, filepath.Join(h.config.RestoreSnapshotsDir(), "dev@2024-01"))
	mkdir(t, h.config.Paths.Dataset)
	if err := os.WriteFile(filepath.Join(h.config.Paths.Dataset, "notes.txt"), []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := h.engine.Apply(context.Background(), "2024-01"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	backup := h.config.Paths.Dataset + "_backup_" + strconv.FormatInt(testNow.Unix(), 10)
	data, err := os.ReadFile(filepath.Join(backup, "notes.txt"))
	if err != nil || string(data) != "keep me" {
		t.Errorf("moved-aside worktree at %s: %q, %v", backup, data, err)
	}
	if len(h.subvolumes.deleted) != 0 {
		t.Errorf("plain directory was deleted: %v", h.subvolumes.deleted)
	}
}

func TestApplyMissingRestoreSnapshot(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	h.writeChain(t)
	if _, err := h.engine.Apply(context.Background(), "2024-02"); !fault.Is(err, fault.NotFound) {
		t.Fatalf("Apply without restore snapshot = %v, want not-found fault", err)
	}
}

func TestSend(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	h.writeChain(t)
	restore := h.config.RestoreSnapshotsDir()
	mkdir(t, filepath.Join(restore, "dev@2024-01"))
	mkdir(t, filepath.Join(restore, "dev@2024-02"))

	var stdout bytes.Buffer
	if err := h.engine.Send(context.Background(), "latest", "2024-01", &stdout); err != nil {
		t.Fatalf("Send: %v", err)
	}
	stages := h.runner.runs[0]
	if len(stages) != 1 || stages[0].Stdout != &stdout {
		t.Fatalf("send pipeline = %+v, want one stage writing to stdout", stages)
	}
	want := []string{"send", "-p", filepath.Join(restore, "dev@2024-01"), filepath.Join(restore, "dev@2024-02")}
	if !slices.Equal(stages[0].Args, want) {
		t.Errorf("send args = %v, want %v", stages[0].Args, want)
	}
}

func TestSendMissingParent(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	h.writeChain(t)
	mkdir(t, filepath.Join(h.config.RestoreSnapshotsDir(), "dev@2024-02"))

	err := h.engine.Send(context.Background(), "2024-02", "2024-01", &bytes.Buffer{})
	if !fault.Is(err, fault.NotFound) {
		t.Fatalf("Send without parent snapshot = %v, want not-found fault", err)
	}
}

func TestRunMonthIncremental(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	h.writeChain(t)
	mkdir(t, filepath.Join(h.config.Paths.Snapshots, "dev@2024-02"))
	h.runner.effect = writeExportOutput

	result, err := h.engine.RunMonth(context.Background(), "2024-03", t.TempDir())
	if err != nil {
		t.Fatalf("RunMonth: %v", err)
	}
	if result.Decision.Kind != manifest.Incremental || result.Decision.Parent != "2024-02" {
		t.Errorf("decision = %+v, want incremental from 2024-02", result.Decision)
	}
	if filepath.Base(result.Artifact) != "dev@2024-03.incr.from_2024-02.send.zst.age" {
		t.Errorf("artifact = %s", result.Artifact)
	}
	if result.Snapshot != filepath.Join(h.config.Paths.Snapshots, "dev@2024-03") {
		t.Errorf("snapshot = %s", result.Snapshot)
	}
}

func TestRunMonthAnchorWithoutManifest(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	if err := os.Remove(h.config.ManifestPath()); err != nil {
		t.Fatal(err)
	}
	h.runner.effect = writeExportOutput

	result, err := h.engine.RunMonth(context.Background(), "2024-03", t.TempDir())
	if err != nil {
		t.Fatalf("RunMonth: %v", err)
	}
	if result.Decision.Kind != manifest.Anchor {
		t.Errorf("decision = %+v, want anchor", result.Decision)
	}
	if filepath.Base(result.Artifact) != "dev@2024-03.full.send.zst.age" {
		t.Errorf("artifact = %s", result.Artifact)
	}
}

func TestRunMonthUsesRemoteManifest(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	h.writeChain(t)
	data, err := os.ReadFile(h.config.ManifestPath())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(h.config.ManifestPath()); err != nil {
		t.Fatal(err)
	}
	h.remote.SetObject(manifest.RemoteKey, data)
	h.config.Cloud.Provider = string(objectstore.ProviderDirectory)
	mkdir(t, filepath.Join(h.config.Paths.Snapshots, "dev@2024-02"))
	h.runner.effect = writeExportOutput

	result, err := h.engine.RunMonth(context.Background(), "2024-03", t.TempDir())
	if err != nil {
		t.Fatalf("RunMonth: %v", err)
	}
	if result.Decision.Parent != "2024-02" {
		t.Errorf("decision = %+v, want incremental from the remote manifest's latest", result.Decision)
	}
}

func TestRunMonthRefusesRegisteredLabel(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	h.writeChain(t)
	h.runner.effect = writeExportOutput

	for _, registered := range []string{"2024-02", "2024-01"} {
		_, err := h.engine.RunMonth(context.Background(), registered, t.TempDir())
		if !fault.Is(err, fault.Validation) {
			t.Fatalf("RunMonth(%s) = %v, want validation fault", registered, err)
		}
		if !strings.Contains(err.Error(), "already registered") {
			t.Errorf("RunMonth(%s) error %q does not say the label is registered", registered, err)
		}
	}
	if len(h.subvolumes.snapshots) != 0 || len(h.runner.runs) != 0 {
		t.Error("snapshot or pipeline run despite the refusal")
	}
}

func TestRunMonthNoAnchor(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	root := h.config.Paths.StorageRoot
	orphan := testutil.WriteArtifact(t, root, "2024-02", "2024-01", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), []byte("x"))
	if err := manifest.NewStore(h.config.ManifestPath()).WriteRecords([]manifest.Record{orphan}); err != nil {
		t.Fatal(err)
	}

	if _, err := h.engine.RunMonth(context.Background(), "2024-03", t.TempDir()); !fault.Is(err, fault.NoAnchor) {
		t.Fatalf("RunMonth with no anchor = %v, want no-anchor fault", err)
	}
	if len(h.subvolumes.snapshots) != 0 {
		t.Error("snapshot taken despite policy failure")
	}
}

// receiveRequest is a runner effect that creates the snapshot the
// workstation's btrfs receive would produce.
func receiveRequest(requested string) func([]pipeline.Stage) error {
	return func(stages []pipeline.Stage) error {
		receive := stages[len(stages)-1]
		directory := receive.Args[len(receive.Args)-1]
		return os.MkdirAll(filepath.Join(directory, artifactname.SnapshotName(requested)), 0o755)
	}
}

func TestRequestLocalWithAutoParent(t *testing.T) {
	h := newHarness(t)
	snapshots := h.config.Paths.Snapshots
	for _, name := range []string{"dev@2023-12", "dev@2024-01", "dev@2024-02", "scratch"} {
		mkdir(t, filepath.Join(snapshots, name))
	}
	h.runner.effect = receiveRequest("2024-02")

	resolved, err := h.engine.Request(context.Background(), RequestOptions{Label: "2024-02", AutoParent: true})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resolved != "2024-02" {
		t.Errorf("resolved = %s", resolved)
	}
	stages := h.runner.runs[0]
	if stages[0].Program != h.config.Tools.Self {
		t.Errorf("local request program = %s, want %s", stages[0].Program, h.config.Tools.Self)
	}
	if want := []string{"ls", "send", "2024-02", "2024-01"}; !slices.Equal(stages[0].Args, want) {
		t.Errorf("request args = %v, want %v", stages[0].Args, want)
	}
	if want := []string{"receive", snapshots}; !slices.Equal(stages[1].Args, want) {
		t.Errorf("receive args = %v, want %v", stages[1].Args, want)
	}
	last := h.subvolumes.snapshots[len(h.subvolumes.snapshots)-1]
	if last.source != filepath.Join(snapshots, "dev@2024-02") || last.destination != h.config.Paths.Dataset || last.readOnly {
		t.Errorf("worktree snapshot = %+v", last)
	}
}

func TestRequestRemote(t *testing.T) {
	h := newHarness(t)
	h.runner.effect = receiveRequest("2024-02")

	_, err := h.engine.Request(context.Background(), RequestOptions{
		Label: "2024-02",
		Host:  "backup.internal",
		User:  "operator",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	request := h.runner.runs[0][0]
	want := []string{"operator@backup.internal", "--", h.config.Tools.Self,
		"--config", h.config.Remote.RemoteConfig, "ls", "send", "2024-02"}
	if request.Program != h.config.Tools.SSH || !slices.Equal(request.Args, want) {
		t.Errorf("request = %s %v, want ssh %v", request.Program, request.Args, want)
	}
}

func TestRequestLatestWithoutManifest(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.Request(context.Background(), RequestOptions{Label: "latest"}); !fault.Is(err, fault.NotFound) {
		t.Fatalf("Request(latest) without manifest = %v, want not-found fault", err)
	}
}

func TestRequestMissingReceivedSnapshot(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.Request(context.Background(), RequestOptions{Label: "2024-02"}); !fault.Is(err, fault.NotFound) {
		t.Fatalf("Request where nothing was received = %v, want not-found fault", err)
	}
	if len(h.subvolumes.snapshots) != 0 {
		t.Error("worktree replaced without a received snapshot")
	}
}

func TestLatestLocalSnapshot(t *testing.T) {
	directory := t.TempDir()
	for _, name := range []string{"dev@2023-11", "dev@2024-05", "dev@bogus", "dev@2024-04"} {
		mkdir(t, filepath.Join(directory, name))
	}
	got, err := latestLocalSnapshot(directory, "2024-05")
	if err != nil || got != "2024-04" {
		t.Errorf("latestLocalSnapshot = (%q, %v), want 2024-04", got, err)
	}
	got, err = latestLocalSnapshot(filepath.Join(directory, "missing"), "")
	if err != nil || got != "" {
		t.Errorf("latestLocalSnapshot(missing) = (%q, %v), want empty", got, err)
	}
}

func TestPushThenPull(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	h.config.Cloud.Provider = string(objectstore.ProviderDirectory)
	h.writeChain(t)
	ctx := context.Background()

	pushed, err := h.engine.Push(ctx)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	want := []string{
		"artifacts/anchors/dev@2024-01.full.send.zst.age",
		"artifacts/incr/dev@2024-02.incr.from_2024-01.send.zst.age",
	}
	if !slices.Equal(pushed.Uploaded, want) {
		t.Errorf("Uploaded = %v, want %v", pushed.Uploaded, want)
	}

	destination := t.TempDir()
	pulled, err := h.engine.Pull(ctx, "latest", destination)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if !slices.Equal(pulled.Downloaded, want) {
		t.Errorf("Downloaded = %v, want %v", pulled.Downloaded, want)
	}
	data, err := os.ReadFile(filepath.Join(destination, want[1]))
	if err != nil || string(data) != "incr stream" {
		t.Errorf("pulled incremental = %q, %v", data, err)
	}
}

func TestPushRequiresCloud(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	if _, err := h.engine.Push(context.Background()); !fault.Is(err, fault.Validation) {
		t.Fatalf("Push without cloud provider = %v, want validation fault", err)
	}
}

func TestVerify(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	records := h.writeChain(t)
	ctx := context.Background()

	results, err := h.engine.Verify(ctx, "", false)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}

	if err := os.WriteFile(records[1].LocalPath, []byte("tampered!!!"), 0o644); err != nil {
		t.Fatal(err)
	}
	results, err = h.engine.Verify(ctx, "2024-02", false)
	if !fault.Is(err, fault.ChainIntegrity) {
		t.Fatalf("Verify after tampering = %v, want chain-integrity fault", err)
	}
	if results[0].Err != nil || results[1].Err == nil {
		t.Errorf("results = %+v, want only the incremental to fail", results)
	}
}

func TestPrune(t *testing.T) {
	h := newHarness(t)
	h.config.Retention.WindowDays = 14
	group := filepath.Join(h.config.Retention.Root, "home")
	for _, name := range []string{
		"home-20240105_0300",
		"home-20240120_0300",
		"home-20240225_0300",
		"home-20240228_0300",
		"unlabelled",
	} {
		mkdir(t, filepath.Join(group, name))
	}
	ctx := context.Background()

	groups, err := h.engine.Prune(ctx, true)
	if err != nil {
		t.Fatalf("Prune dry run: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Delete) != 1 || groups[0].Delete[0].Name != "home-20240120_0300" {
		t.Fatalf("groups = %+v, want only home-20240120_0300 deleted", groups)
	}
	if len(h.subvolumes.deleted) != 0 {
		t.Fatal("dry run deleted snapshots")
	}

	if _, err := h.engine.Prune(ctx, false); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if want := []string{filepath.Join(group, "home-20240120_0300")}; !slices.Equal(h.subvolumes.deleted, want) {
		t.Errorf("deleted = %v, want %v", h.subvolumes.deleted, want)
	}
}

func TestListManifest(t *testing.T) {
	h := newHarness(t)
	h.initStorage(t)
	h.writeChain(t)
	records, err := h.engine.ListManifest()
	if err != nil {
		t.Fatalf("ListManifest: %v", err)
	}
	if !slices.Equal(labels(records), []string{"2024-01", "2024-02"}) {
		t.Errorf("labels = %v", labels(records))
	}
}
