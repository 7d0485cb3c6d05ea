package local

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"snapvault/src/backend"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(filepath.Join(t.TempDir(), "backups"))
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if err := b.TestConnection(); err != nil {
		t.Fatalf("test connection: %v", err)
	}
	return b
}

// writeSourceTree lays out a source directory with 3 regular files
// totaling 300 bytes, one of them nested.
func writeSourceTree(t *testing.T) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "src")
	mustWrite(t, filepath.Join(src, "a.txt"), 100)
	mustWrite(t, filepath.Join(src, "b.txt"), 100)
	mustWrite(t, filepath.Join(src, "subdir", "c.txt"), 100)
	return src
}

func mustWrite(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir -p %s: %v", path, err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestCreateBackupCounts(t *testing.T) {
	b := newTestBackend(t)
	src := writeSourceTree(t)

	meta, err := b.CreateBackup([]string{src}, "daily", backend.TypeCustom, backend.CompressionNone, false, nil)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if meta.FileCount != 3 || meta.SizeBytes != 300 {
		t.Fatalf("got %d files / %d bytes, want 3 / 300", meta.FileCount, meta.SizeBytes)
	}
	if meta.Verified {
		t.Fatal("new backups must not be marked verified")
	}
	if meta.Name != "daily" {
		t.Fatalf("unexpected name: %q", meta.Name)
	}

	got, err := b.GetBackup(meta.ID)
	if err != nil {
		t.Fatalf("get backup: %v", err)
	}
	if got.FileCount != 3 || got.SizeBytes != 300 {
		t.Fatalf("sidecar disagrees: %d files / %d bytes", got.FileCount, got.SizeBytes)
	}
}

func TestCreateBackupProgressProtocol(t *testing.T) {
	b := newTestBackend(t)
	src := writeSourceTree(t)

	var phases []backend.Phase
	var final backend.Progress
	meta, err := b.CreateBackup([]string{src}, "daily", backend.TypeCustom, backend.CompressionNone, false,
		func(p backend.Progress) {
			phases = append(phases, p.Phase)
			final = p
		})
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if len(phases) == 0 || phases[0] != backend.PhaseScanning {
		t.Fatalf("first update must be scanning, got %v", phases)
	}
	completes := 0
	for _, ph := range phases {
		if ph == backend.PhaseComplete {
			completes++
		}
	}
	if completes != 1 || final.Phase != backend.PhaseComplete {
		t.Fatalf("want exactly one trailing complete update, phases: %v", phases)
	}
	if final.FilesProcessed != meta.FileCount || final.BytesProcessed != meta.SizeBytes {
		t.Fatalf("complete totals %d/%d disagree with metadata %d/%d",
			final.FilesProcessed, final.BytesProcessed, meta.FileCount, meta.SizeBytes)
	}
}

func TestCreateBackupRejectsMissingSource(t *testing.T) {
	b := newTestBackend(t)
	if _, err := b.CreateBackup([]string{"/does/not/exist"}, "x", backend.TypeCustom, backend.CompressionNone, false, nil); err == nil {
		t.Fatal("expected error for missing source")
	}
	if _, err := b.CreateBackup([]string{"relative/path"}, "x", backend.TypeCustom, backend.CompressionNone, false, nil); err == nil {
		t.Fatal("expected error for relative source path")
	}
}

func TestListBackupsSortedAndLenient(t *testing.T) {
	b := newTestBackend(t)
	src := writeSourceTree(t)

	var ids []string
	for i := 0; i < 3; i++ {
		meta, err := b.CreateBackup([]string{src}, "run", backend.TypeCustom, backend.CompressionNone, false, nil)
		if err != nil {
			t.Fatalf("create backup %d: %v", i, err)
		}
		ids = append(ids, meta.ID)
	}

	// A directory with a malformed sidecar must be skipped, not fatal.
	bad := filepath.Join(b.base, "backup-garbage")
	mustWrite(t, filepath.Join(bad, "metadata.json"), 0)
	if err := os.WriteFile(filepath.Join(bad, "metadata.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	backups, err := b.ListBackups()
	if err != nil {
		t.Fatalf("list backups: %v", err)
	}
	if len(backups) != 3 {
		t.Fatalf("got %d backups, want 3", len(backups))
	}
	for i := 1; i < len(backups); i++ {
		if backups[i].Timestamp.After(backups[i-1].Timestamp) {
			t.Fatalf("not sorted newest first: %v", backups)
		}
	}
	_ = ids
}

func TestRestoreRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	src := writeSourceTree(t)
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("alpha content"), 0o644); err != nil {
		t.Fatal(err)
	}

	meta, err := b.CreateBackup([]string{src}, "daily", backend.TypeCustom, backend.CompressionNone, false, nil)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "restored")
	if err := b.RestoreBackup(meta.ID, dest, nil, nil); err != nil {
		t.Fatalf("restore backup: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "src", "a.txt"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(got) != "alpha content" {
		t.Fatalf("restored content mismatch: %q", got)
	}
	if _, err := os.Stat(filepath.Join(dest, "src", "subdir", "c.txt")); err != nil {
		t.Fatalf("nested file not restored: %v", err)
	}
}

func TestSelectiveRestore(t *testing.T) {
	b := newTestBackend(t)
	src := writeSourceTree(t)

	meta, err := b.CreateBackup([]string{src}, "daily", backend.TypeCustom, backend.CompressionNone, false, nil)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "restored")
	if err := b.RestoreBackup(meta.ID, dest, []string{"src/subdir"}, nil); err != nil {
		t.Fatalf("selective restore: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "src", "subdir", "c.txt")); err != nil {
		t.Fatalf("filtered file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "src", "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("file outside filter restored: %v", err)
	}
}

func TestRestoreUnknownID(t *testing.T) {
	b := newTestBackend(t)
	err := b.RestoreBackup("backup-nope", t.TempDir(), nil, nil)
	if !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestVerifyBackup(t *testing.T) {
	b := newTestBackend(t)
	src := writeSourceTree(t)

	meta, err := b.CreateBackup([]string{src}, "daily", backend.TypeCustom, backend.CompressionNone, false, nil)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}

	ok, err := b.VerifyBackup(meta.ID)
	if err != nil || !ok {
		t.Fatalf("fresh backup must verify: ok=%v err=%v", ok, err)
	}

	// Removing a data file out-of-band breaks the file-count cross-check.
	if err := os.Remove(filepath.Join(b.dataPath(meta.ID), "src", "a.txt")); err != nil {
		t.Fatal(err)
	}
	ok, err = b.VerifyBackup(meta.ID)
	if err != nil || ok {
		t.Fatalf("tampered backup must fail verification: ok=%v err=%v", ok, err)
	}

	// Removing the whole data directory fails the structural check.
	if err := os.RemoveAll(b.dataPath(meta.ID)); err != nil {
		t.Fatal(err)
	}
	ok, err = b.VerifyBackup(meta.ID)
	if err != nil || ok {
		t.Fatalf("gutted backup must fail verification: ok=%v err=%v", ok, err)
	}

	ok, err = b.VerifyBackup("backup-nope")
	if err != nil || ok {
		t.Fatalf("unknown id must fail verification cleanly: ok=%v err=%v", ok, err)
	}
}

func TestDeleteBackup(t *testing.T) {
	b := newTestBackend(t)
	src := writeSourceTree(t)

	meta, err := b.CreateBackup([]string{src}, "daily", backend.TypeCustom, backend.CompressionNone, false, nil)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if err := b.DeleteBackup(meta.ID); err != nil {
		t.Fatalf("delete backup: %v", err)
	}
	if _, err := b.GetBackup(meta.ID); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("get after delete: got %v, want ErrNotFound", err)
	}
	backups, err := b.ListBackups()
	if err != nil {
		t.Fatalf("list backups: %v", err)
	}
	for _, m := range backups {
		if m.ID == meta.ID {
			t.Fatalf("deleted backup still listed: %s", m.ID)
		}
	}
	if err := b.DeleteBackup(meta.ID); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("delete unknown id: got %v, want ErrNotFound", err)
	}
}

func TestListFilesOneLevel(t *testing.T) {
	b := newTestBackend(t)
	src := writeSourceTree(t)

	meta, err := b.CreateBackup([]string{src}, "daily", backend.TypeCustom, backend.CompressionNone, false, nil)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}

	entries, err := b.ListFiles(meta.ID, "")
	if err != nil {
		t.Fatalf("list root: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "src" || !entries[0].IsDir {
		t.Fatalf("unexpected root listing: %#v", entries)
	}

	entries, err = b.ListFiles(meta.ID, "src")
	if err != nil {
		t.Fatalf("list src: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	// Directories first, then lexicographic.
	if entries[0].Path != "src/subdir" || !entries[0].IsDir {
		t.Fatalf("directory not first: %#v", entries[0])
	}
	if entries[1].Path != "src/a.txt" || entries[2].Path != "src/b.txt" {
		t.Fatalf("files out of order: %#v", entries[1:])
	}
}

func TestUniqueIDCollision(t *testing.T) {
	b := newTestBackend(t)
	// Pin the clock so two creates land in the same second.
	b.now = func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) }
	src := writeSourceTree(t)

	first, err := b.CreateBackup([]string{src}, "one", backend.TypeCustom, backend.CompressionNone, false, nil)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := b.CreateBackup([]string{src}, "two", backend.TypeCustom, backend.CompressionNone, false, nil)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("same-second ids collided: %s", first.ID)
	}
}

func TestGetStorageUsage(t *testing.T) {
	b := newTestBackend(t)
	src := writeSourceTree(t)
	if _, err := b.CreateBackup([]string{src}, "daily", backend.TypeCustom, backend.CompressionNone, false, nil); err != nil {
		t.Fatalf("create backup: %v", err)
	}
	usage, err := b.GetStorageUsage()
	if err != nil {
		t.Fatalf("storage usage: %v", err)
	}
	if usage.BackupCount != 1 {
		t.Fatalf("got %d backups, want 1", usage.BackupCount)
	}
	if usage.UsedBytes < 300 {
		t.Fatalf("used bytes %d below data size", usage.UsedBytes)
	}
	if usage.TotalBytes == 0 {
		t.Fatal("total bytes must reflect real filesystem capacity")
	}
}
