package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"snapvault/src/backend"
)

// runCLI executes the root command with the given arguments and returns
// captured stdout, stderr, and the command error.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCmd(&stdout, &stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// newVault lays out a source tree and returns a dir: target plus the
// source path.
func newVault(t *testing.T) (targetFlag, src string) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "vault")
	src = filepath.Join(t.TempDir(), "photos")
	if err := os.MkdirAll(filepath.Join(src, "2025"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"a.jpg", "b.jpg", "2025/c.jpg"} {
		if err := os.WriteFile(filepath.Join(src, f), []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return "--target=dir:" + base, src
}

// createBackup runs the create command and extracts the backup id from
// its output line.
func createBackup(t *testing.T, targetFlag, src string) string {
	t.Helper()
	stdout, _, err := runCLI(t, "create", src, "--name", "photos", targetFlag)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fields := strings.Fields(stdout)
	if len(fields) < 2 || fields[0] != "Created" {
		t.Fatalf("unexpected create output: %q", stdout)
	}
	return strings.TrimSuffix(fields[1], ":")
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(stdout, "snapvault ") {
		t.Fatalf("version output: %q", stdout)
	}
}

func TestCreateAndList(t *testing.T) {
	targetFlag, src := newVault(t)
	id := createBackup(t, targetFlag, src)

	stdout, _, err := runCLI(t, "list", targetFlag)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(stdout, id) || !strings.Contains(stdout, "photos") {
		t.Fatalf("list output missing backup: %q", stdout)
	}

	stdout, _, err = runCLI(t, "list", "--output", "json", targetFlag)
	if err != nil {
		t.Fatalf("list json: %v", err)
	}
	var backups []backend.Metadata
	if err := json.Unmarshal([]byte(stdout), &backups); err != nil {
		t.Fatalf("parse list json: %v\n%s", err, stdout)
	}
	if len(backups) != 1 || backups[0].ID != id || backups[0].FileCount != 3 {
		t.Fatalf("unexpected listing: %+v", backups)
	}
}

func TestCreateRequiresName(t *testing.T) {
	targetFlag, src := newVault(t)
	if _, _, err := runCLI(t, "create", src, targetFlag); err == nil {
		t.Fatal("create without --name must fail")
	}
}

func TestCreateDryRun(t *testing.T) {
	targetFlag, src := newVault(t)
	stdout, _, err := runCLI(t, "create", src, "--name", "photos", "--dry-run", targetFlag)
	if err != nil {
		t.Fatalf("dry-run create: %v", err)
	}
	if !strings.Contains(stdout, "Would back up") {
		t.Fatalf("dry-run output: %q", stdout)
	}
	listOut, _, err := runCLI(t, "list", "--output", "json", targetFlag)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Contains(listOut, "backup-") {
		t.Fatalf("dry run must not create anything: %q", listOut)
	}
}

func TestRestoreCommand(t *testing.T) {
	targetFlag, src := newVault(t)
	id := createBackup(t, targetFlag, src)
	dest := filepath.Join(t.TempDir(), "out")

	stdout, _, err := runCLI(t, "restore", id, dest, "-y", targetFlag)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !strings.Contains(stdout, "Restored "+id) {
		t.Fatalf("restore output: %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(dest, "photos", "2025", "c.jpg")); err != nil {
		t.Fatalf("restored file missing: %v", err)
	}
}

func TestRestoreDryRunCancels(t *testing.T) {
	targetFlag, src := newVault(t)
	id := createBackup(t, targetFlag, src)
	dest := filepath.Join(t.TempDir(), "out")

	stdout, _, err := runCLI(t, "restore", id, dest, "--dry-run", targetFlag)
	if err != nil {
		t.Fatalf("dry-run restore: %v", err)
	}
	if !strings.Contains(stdout, "cancelled") {
		t.Fatalf("dry-run output: %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(dest, "photos")); !os.IsNotExist(err) {
		t.Fatalf("dry run must not restore: %v", err)
	}
}

func TestDeleteCommand(t *testing.T) {
	targetFlag, src := newVault(t)
	id := createBackup(t, targetFlag, src)

	stdout, _, err := runCLI(t, "delete", id, "-y", targetFlag)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(stdout, "Deleted "+id) {
		t.Fatalf("delete output: %q", stdout)
	}

	if _, _, err := runCLI(t, "delete", id, "-y", targetFlag); err == nil {
		t.Fatal("deleting a missing backup must fail")
	}
}

func TestVerifyCommand(t *testing.T) {
	targetFlag, src := newVault(t)
	id := createBackup(t, targetFlag, src)

	stdout, _, err := runCLI(t, "verify", id, targetFlag)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(stdout, "verified") {
		t.Fatalf("verify output: %q", stdout)
	}
	if _, _, err := runCLI(t, "verify", "backup-nope", targetFlag); err == nil {
		t.Fatal("verifying a missing backup must fail")
	}
}

func TestFilesCommand(t *testing.T) {
	targetFlag, src := newVault(t)
	id := createBackup(t, targetFlag, src)

	stdout, _, err := runCLI(t, "files", id, "-p", "photos", "--output", "json", targetFlag)
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	var entries []backend.FileEntry
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("parse files json: %v\n%s", err, stdout)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3: %+v", len(entries), entries)
	}
	if entries[0].Path != "photos/2025" || !entries[0].IsDir {
		t.Fatalf("directory not first: %+v", entries[0])
	}
}

func TestUsageCommand(t *testing.T) {
	targetFlag, src := newVault(t)
	createBackup(t, targetFlag, src)

	stdout, _, err := runCLI(t, "usage", targetFlag)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	for _, want := range []string{"Backups:", "Used:", "Available:", "Total:"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("usage output missing %q: %q", want, stdout)
		}
	}
}

func TestTestCommand(t *testing.T) {
	targetFlag, _ := newVault(t)
	stdout, _, err := runCLI(t, "test", targetFlag)
	if err != nil {
		t.Fatalf("test: %v", err)
	}
	if !strings.Contains(stdout, "connection OK") {
		t.Fatalf("test output: %q", stdout)
	}
}

func TestConfigFileSelectsBackend(t *testing.T) {
	base := filepath.Join(t.TempDir(), "vault")
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	cfgBody := "default_backend = \"local\"\n\n[local]\nbase_path = " + strconv.Quote(base) + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o644); err != nil {
		t.Fatal(err)
	}
	_, src := newVault(t)

	stdout, _, err := runCLI(t, "create", src, "--name", "photos", "--config", cfgPath)
	if err != nil {
		t.Fatalf("create via config: %v", err)
	}
	if !strings.Contains(stdout, "Created backup-") {
		t.Fatalf("create output: %q", stdout)
	}

	stdout, _, err = runCLI(t, "backends", "--config", cfgPath)
	if err != nil {
		t.Fatalf("backends: %v", err)
	}
	if !strings.Contains(stdout, "local") || !strings.Contains(stdout, "available") {
		t.Fatalf("backends output: %q", stdout)
	}
}

func TestRenderBackupTable(t *testing.T) {
	fake := backend.NewFake("Fake")
	if _, err := fake.CreateBackup(nil, "nightly", backend.TypeHome, backend.CompressionNone, false, nil); err != nil {
		t.Fatalf("fake create: %v", err)
	}
	backups, err := fake.ListBackups()
	if err != nil {
		t.Fatalf("fake list: %v", err)
	}
	var buf bytes.Buffer
	if err := renderBackupTable(&buf, backups); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "ID") || !strings.Contains(out, "nightly") {
		t.Fatalf("table output: %q", out)
	}
}

func TestRenderFileTable(t *testing.T) {
	fake := backend.NewFake("Fake")
	meta, err := fake.CreateBackup(nil, "nightly", backend.TypeHome, backend.CompressionNone, false, nil)
	if err != nil {
		t.Fatalf("fake create: %v", err)
	}
	fake.Files[meta.ID] = []backend.FileEntry{
		{Path: "docs", IsDir: true},
		{Path: "a.txt", Size: 2048},
	}
	entries, err := fake.ListFiles(meta.ID, "")
	if err != nil {
		t.Fatalf("fake list files: %v", err)
	}
	var buf bytes.Buffer
	if err := renderFileTable(&buf, entries); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "docs") || !strings.Contains(out, "2.0KiB") {
		t.Fatalf("table output: %q", out)
	}
	// Directories render a marker instead of a size.
	if !strings.Contains(out, "dir") {
		t.Fatalf("directory marker missing: %q", out)
	}
}

func TestAvailabilityLabel(t *testing.T) {
	fake := backend.NewFake("Fake")
	if got := availability(fake); got != "available" {
		t.Fatalf("got %q", got)
	}
	fake.Available = false
	if got := availability(fake); got != "unavailable" {
		t.Fatalf("got %q", got)
	}
}

func TestNoTargetNoConfigFails(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "absent.toml")
	if _, _, err := runCLI(t, "list", "--config", cfgPath); err == nil {
		t.Fatal("list without target or configured backend must fail")
	}
}
