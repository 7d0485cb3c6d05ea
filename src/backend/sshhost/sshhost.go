// Package sshhost implements the backup backend for a remote host reached
// over SSH. File content moves with rsync; structural checks and small
// reads run as remote ssh commands.
package sshhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"snapvault/src/backend"
	"snapvault/src/rsync"
)

// Backend stores backups under a base directory on a remote host.
type Backend struct {
	ctx   context.Context
	cfg   rsync.Config
	base  string
	locks *backend.Locks
	now   func() time.Time

	// Subprocess seams, replaced in tests.
	ssh       func(ctx context.Context, cfg rsync.Config, cmd string) (string, error)
	sync      func(ctx context.Context, cfg rsync.Config, src, dest string, extra ...string) (string, error)
	push      func(ctx context.Context, cfg rsync.Config, data []byte, remotePath string) error
	installed func() bool
}

// New returns a backend for the given host configuration and remote base
// path. The context bounds every subprocess the backend spawns.
func New(ctx context.Context, cfg rsync.Config, basePath string) (*Backend, error) {
	if cfg.Host == "" {
		return nil, errors.New("remote host must not be empty")
	}
	if cfg.User == "" {
		return nil, errors.New("remote user must not be empty")
	}
	if basePath == "" {
		return nil, errors.New("remote base path must not be empty")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Backend{
		ctx:       ctx,
		cfg:       cfg,
		base:      strings.TrimSuffix(basePath, "/"),
		locks:     backend.NewLocks(),
		now:       time.Now,
		ssh:       rsync.SSH,
		sync:      rsync.Sync,
		push:      rsync.PushFile,
		installed: rsync.IsInstalled,
	}, nil
}

func (b *Backend) backupPath(id string) string   { return b.base + "/" + id }
func (b *Backend) dataPath(id string) string     { return b.backupPath(id) + "/data" }
func (b *Backend) metadataPath(id string) string { return b.backupPath(id) + "/metadata.json" }

func (b *Backend) Name() string { return "Remote host" }

// IsAvailable requires both ssh and rsync on PATH.
func (b *Backend) IsAvailable() bool { return b.installed() }

func (b *Backend) TestConnection() error {
	if _, err := b.ssh(b.ctx, b.cfg, "true"); err != nil {
		return fmt.Errorf("host unreachable: %w", err)
	}
	if _, err := b.ssh(b.ctx, b.cfg, fmt.Sprintf("mkdir -p %q", b.base)); err != nil {
		return fmt.Errorf("create remote backup directory: %w", err)
	}
	return nil
}

func (b *Backend) ListBackups() ([]backend.Metadata, error) {
	// One find call returns every sidecar, newline-delimited so each one
	// decodes independently. Malformed sidecars are skipped, never fatal.
	out, err := b.ssh(b.ctx, b.cfg, fmt.Sprintf(
		`find %q -maxdepth 2 -name metadata.json -exec sh -c 'cat "$1"; echo' _ {} \; 2>/dev/null; true`, b.base))
	if err != nil {
		return nil, err
	}
	backups := []backend.Metadata{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var meta backend.Metadata
		if err := json.Unmarshal([]byte(line), &meta); err != nil {
			continue
		}
		backups = append(backups, meta)
	}
	backend.SortBackups(backups)
	return backups, nil
}

func (b *Backend) CreateBackup(sources []string, name string, typ backend.BackupType, compression backend.Compression, encrypt bool, prog backend.ProgressFunc) (backend.Metadata, error) {
	for _, src := range sources {
		if !filepath.IsAbs(src) {
			return backend.Metadata{}, fmt.Errorf("source must be an absolute path: %q", src)
		}
		if _, err := os.Stat(src); err != nil {
			return backend.Metadata{}, fmt.Errorf("source not accessible: %w", err)
		}
	}

	id := backend.NewID(b.now())
	release, err := b.locks.Acquire(id)
	if err != nil {
		return backend.Metadata{}, err
	}
	defer release()

	if _, err := b.ssh(b.ctx, b.cfg, fmt.Sprintf("mkdir -p %q", b.dataPath(id))); err != nil {
		return backend.Metadata{}, err
	}

	prog.Report(backend.Progress{CurrentFile: "Preparing transfer...", Phase: backend.PhaseScanning})

	var totalFiles uint64
	for _, src := range sources {
		info, err := os.Stat(src)
		if err != nil {
			return backend.Metadata{}, fmt.Errorf("source not accessible: %w", err)
		}
		prog.Report(backend.Progress{
			CurrentFile: fmt.Sprintf("Syncing %s...", src),
			Phase:       backend.PhaseBacking,
		})
		// A directory syncs its contents under data/<basename>/; a regular
		// file lands directly in data/ under its own name.
		var out string
		if info.IsDir() {
			dest := fmt.Sprintf("%s:%s/%s/", b.cfg.UserHost(), b.dataPath(id), sourceBasename(src))
			out, err = b.sync(b.ctx, b.cfg, strings.TrimSuffix(src, "/")+"/", dest, "-v")
		} else {
			dest := fmt.Sprintf("%s:%s/", b.cfg.UserHost(), b.dataPath(id))
			out, err = b.sync(b.ctx, b.cfg, src, dest, "-v")
		}
		if err != nil {
			return backend.Metadata{}, err
		}
		totalFiles += countTransferredFiles(out)
	}

	totalBytes := uint64(0)
	if out, err := b.ssh(b.ctx, b.cfg, fmt.Sprintf("du -sb %q", b.dataPath(id))); err == nil {
		totalBytes = parseFirstUint(out)
	}

	meta := backend.Metadata{
		ID:          id,
		Name:        name,
		Timestamp:   b.now().UTC(),
		BackupType:  typ,
		SizeBytes:   totalBytes,
		FileCount:   totalFiles,
		Compression: compression,
		Encrypted:   encrypt,
		Verified:    false,
		Tags:        []string{},
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return backend.Metadata{}, fmt.Errorf("encode metadata: %w", err)
	}
	if err := b.push(b.ctx, b.cfg, raw, b.metadataPath(id)); err != nil {
		return backend.Metadata{}, fmt.Errorf("write metadata sidecar: %w", err)
	}

	prog.Report(backend.Progress{
		CurrentFile:    "Complete",
		FilesProcessed: totalFiles,
		FilesTotal:     totalFiles,
		BytesProcessed: totalBytes,
		BytesTotal:     totalBytes,
		Phase:          backend.PhaseComplete,
	})
	return meta, nil
}

func (b *Backend) RestoreBackup(id string, destination string, files []string, prog backend.ProgressFunc) error {
	release, err := b.locks.Acquire(id)
	if err != nil {
		return err
	}
	defer release()

	if exists, _ := b.structuralCheck(id); !exists {
		return fmt.Errorf("%w: %s", backend.ErrNotFound, id)
	}
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	prog.Report(backend.Progress{CurrentFile: "Restoring...", Phase: backend.PhaseBacking})

	src := fmt.Sprintf("%s:%s/", b.cfg.UserHost(), b.dataPath(id))
	extra := backend.SyncFilterArgs(files)
	if _, err := b.sync(b.ctx, b.cfg, src, strings.TrimSuffix(destination, "/")+"/", extra...); err != nil {
		return err
	}

	prog.Report(backend.Progress{CurrentFile: "Complete", Phase: backend.PhaseComplete})
	return nil
}

func (b *Backend) DeleteBackup(id string) error {
	release, err := b.locks.Acquire(id)
	if err != nil {
		return err
	}
	defer release()

	if exists, _ := b.structuralCheck(id); !exists {
		return fmt.Errorf("%w: %s", backend.ErrNotFound, id)
	}
	if _, err := b.ssh(b.ctx, b.cfg, fmt.Sprintf("rm -rf %q", b.backupPath(id))); err != nil {
		return err
	}
	return nil
}

func (b *Backend) VerifyBackup(id string) (bool, error) {
	ok, err := b.structuralCheck(id)
	return ok, err
}

// structuralCheck confirms the sidecar file and data directory both exist,
// matching the literal success marker the remote shell echoes.
func (b *Backend) structuralCheck(id string) (bool, error) {
	out, err := b.ssh(b.ctx, b.cfg, fmt.Sprintf("test -f %q && echo OK", b.metadataPath(id)))
	if err != nil || !strings.Contains(out, "OK") {
		return false, nil
	}
	out, err = b.ssh(b.ctx, b.cfg, fmt.Sprintf("test -d %q && echo OK", b.dataPath(id)))
	if err != nil || !strings.Contains(out, "OK") {
		return false, nil
	}
	return true, nil
}

func (b *Backend) GetBackup(id string) (*backend.Metadata, error) {
	out, err := b.ssh(b.ctx, b.cfg, fmt.Sprintf("cat %q 2>/dev/null", b.metadataPath(id)))
	if err != nil || strings.TrimSpace(out) == "" {
		return nil, fmt.Errorf("%w: %s", backend.ErrNotFound, id)
	}
	var meta backend.Metadata
	if err := json.Unmarshal([]byte(out), &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: unreadable metadata", backend.ErrNotFound, id)
	}
	return &meta, nil
}

func (b *Backend) ListFiles(id string, path string) ([]backend.FileEntry, error) {
	search := b.dataPath(id)
	prefix := backend.NormalizeFilter(path)
	if prefix != "" {
		search += "/" + prefix
	}
	out, err := b.ssh(b.ctx, b.cfg, fmt.Sprintf("ls -la --time-style=+%%s %q 2>/dev/null; true", search))
	if err != nil {
		return nil, err
	}
	entries := parseLsOutput(out, prefix, b.now().UTC())
	backend.SortFileEntries(entries)
	return entries, nil
}

// parseLsOutput reads `ls -la --time-style=+%s` lines into file entries.
// Unparseable lines are dropped rather than failing the listing.
func parseLsOutput(out, prefix string, fallback time.Time) []backend.FileEntry {
	entries := []backend.FileEntry{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 7 || strings.HasPrefix(line, "total") {
			continue
		}
		name := strings.Join(fields[6:], " ")
		if name == "." || name == ".." {
			continue
		}
		rel := name
		if prefix != "" {
			rel = prefix + "/" + name
		}
		modified := fallback
		if secs := parseFirstUint(fields[5]); secs > 0 {
			modified = time.Unix(int64(secs), 0).UTC()
		}
		entries = append(entries, backend.FileEntry{
			Path:        rel,
			IsDir:       strings.HasPrefix(fields[0], "d"),
			Size:        parseFirstUint(fields[4]),
			Modified:    modified,
			Permissions: backend.DefaultPermissions,
		})
	}
	return entries
}

func (b *Backend) GetStorageUsage() (backend.StorageUsage, error) {
	used := uint64(0)
	if out, err := b.ssh(b.ctx, b.cfg, fmt.Sprintf("du -sb %q 2>/dev/null", b.base)); err == nil {
		used = parseFirstUint(out)
	}
	out, err := b.ssh(b.ctx, b.cfg, fmt.Sprintf("df -B1 %q | tail -1", b.base))
	if err != nil {
		return backend.StorageUsage{}, err
	}
	var total, available uint64
	if fields := strings.Fields(out); len(fields) >= 4 {
		total = parseFirstUint(fields[1])
		available = parseFirstUint(fields[3])
	}
	backups, err := b.ListBackups()
	if err != nil {
		return backend.StorageUsage{}, err
	}
	return backend.StorageUsage{
		UsedBytes:      used,
		AvailableBytes: available,
		TotalBytes:     total,
		BackupCount:    uint64(len(backups)),
	}, nil
}

// countTransferredFiles counts the transferred entries in verbose rsync
// output, ignoring the summary lines and directory markers.
func countTransferredFiles(out string) uint64 {
	var n uint64
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, "/") {
			continue
		}
		if strings.HasPrefix(line, "sent ") || strings.HasPrefix(line, "total size") ||
			strings.HasPrefix(line, "sending incremental") || strings.HasPrefix(line, "building file list") {
			continue
		}
		n++
	}
	return n
}

func parseFirstUint(s string) uint64 {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	var n uint64
	if _, err := fmt.Sscanf(fields[0], "%d", &n); err != nil {
		return 0
	}
	return n
}

func sourceBasename(src string) string {
	src = strings.TrimRight(strings.ReplaceAll(src, "\\", "/"), "/")
	if i := strings.LastIndex(src, "/"); i >= 0 {
		src = src[i+1:]
	}
	if src == "" {
		return "root"
	}
	return src
}
