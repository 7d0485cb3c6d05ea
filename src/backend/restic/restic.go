// Package restic implements the backup backend on top of a restic
// repository. Snapshots map one-to-one onto backups; the backup name and
// type travel as snapshot tags instead of a sidecar file.
package restic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"snapvault/src/backend"
	"snapvault/src/restic"
)

const (
	nameTagPrefix = "name="
	typeTagPrefix = "type="
)

// Backend stores backups as restic snapshots.
type Backend struct {
	ctx   context.Context
	repo  restic.Repo
	locks *backend.Locks
	now   func() time.Time

	// Subprocess seams, replaced in tests.
	run       func(ctx context.Context, repo restic.Repo, sub string, rest ...string) (string, error)
	snapshots func(ctx context.Context, repo restic.Repo, ids ...string) ([]restic.Snapshot, error)
	stats     func(ctx context.Context, repo restic.Repo, id string) (restic.Stats, error)
	doBackup  func(ctx context.Context, repo restic.Repo, paths, tags []string) (restic.BackupSummary, error)
	doRestore func(ctx context.Context, repo restic.Repo, snapshotID, target string, includes []string) error
	ls        func(ctx context.Context, repo restic.Repo, snapshotID, path string) ([]restic.Node, error)
	installed func() bool
}

// New returns a backend for the given repository. The context bounds every
// restic subprocess the backend spawns.
func New(ctx context.Context, repo restic.Repo) (*Backend, error) {
	if repo.Repository == "" {
		return nil, errors.New("restic repository must not be empty")
	}
	if repo.Password == "" && repo.PasswordFile == "" {
		return nil, errors.New("restic password or password file must be set")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Backend{
		ctx:       ctx,
		repo:      repo,
		locks:     backend.NewLocks(),
		now:       time.Now,
		run:       restic.Run,
		snapshots: restic.Snapshots,
		stats:     restic.SnapshotStats,
		doBackup:  restic.Backup,
		doRestore: restic.Restore,
		ls:        restic.Ls,
		installed: restic.IsInstalled,
	}, nil
}

func (b *Backend) Name() string { return "Restic" }

func (b *Backend) IsAvailable() bool { return b.installed() }

// TestConnection probes the repository and initializes it when missing.
func (b *Backend) TestConnection() error {
	return restic.EnsureRepository(b.ctx, b.repo)
}

func (b *Backend) ListBackups() ([]backend.Metadata, error) {
	snaps, err := b.snapshots(b.ctx, b.repo)
	if err != nil {
		return nil, err
	}
	backups := make([]backend.Metadata, 0, len(snaps))
	for _, snap := range snaps {
		meta := b.snapshotMetadata(snap)
		if stats, err := b.stats(b.ctx, b.repo, snap.ID); err == nil {
			meta.SizeBytes = stats.TotalSize
			meta.FileCount = stats.TotalFileCount
		}
		backups = append(backups, meta)
	}
	backend.SortBackups(backups)
	return backups, nil
}

// snapshotMetadata maps one snapshot to metadata. Restic always encrypts
// and compresses with zstd, regardless of what the caller asked for.
func (b *Backend) snapshotMetadata(snap restic.Snapshot) backend.Metadata {
	name := ""
	typ := backend.TypeCustom
	for _, tag := range snap.Tags {
		if strings.HasPrefix(tag, nameTagPrefix) {
			name = strings.TrimPrefix(tag, nameTagPrefix)
		}
		if strings.HasPrefix(tag, typeTagPrefix) {
			typ = backend.BackupType(strings.TrimPrefix(tag, typeTagPrefix))
		}
	}
	if name == "" {
		short := snap.ShortID
		if short == "" && len(snap.ID) >= 8 {
			short = snap.ID[:8]
		}
		name = "Snapshot " + short
	}
	tags := snap.Tags
	if tags == nil {
		tags = []string{}
	}
	return backend.Metadata{
		ID:          snap.ID,
		Name:        name,
		Timestamp:   snap.Time.UTC(),
		BackupType:  typ,
		Compression: backend.CompressionZstd,
		Encrypted:   true,
		Verified:    false,
		Tags:        tags,
	}
}

func (b *Backend) CreateBackup(sources []string, name string, typ backend.BackupType, _ backend.Compression, _ bool, prog backend.ProgressFunc) (backend.Metadata, error) {
	for _, src := range sources {
		if !filepath.IsAbs(src) {
			return backend.Metadata{}, fmt.Errorf("source must be an absolute path: %q", src)
		}
		if _, err := os.Stat(src); err != nil {
			return backend.Metadata{}, fmt.Errorf("source not accessible: %w", err)
		}
	}

	prog.Report(backend.Progress{CurrentFile: "Scanning files...", Phase: backend.PhaseScanning})
	prog.Report(backend.Progress{CurrentFile: "Creating snapshot...", Phase: backend.PhaseBacking})

	tags := []string{nameTagPrefix + name, typeTagPrefix + string(typ)}
	summary, err := b.doBackup(b.ctx, b.repo, sources, tags)
	if err != nil {
		return backend.Metadata{}, err
	}

	files := summary.FilesNew + summary.FilesChanged
	meta := backend.Metadata{
		ID:          summary.SnapshotID,
		Name:        name,
		Timestamp:   b.now().UTC(),
		BackupType:  typ,
		SizeBytes:   summary.DataAdded,
		FileCount:   files,
		Compression: backend.CompressionZstd,
		Encrypted:   true,
		Verified:    false,
		Tags:        tags,
	}

	prog.Report(backend.Progress{
		CurrentFile:    "Complete",
		FilesProcessed: files,
		FilesTotal:     files,
		BytesProcessed: summary.DataAdded,
		BytesTotal:     summary.DataAdded,
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

	if err := os.MkdirAll(destination, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	prog.Report(backend.Progress{CurrentFile: "Restoring...", Phase: backend.PhaseBacking})

	includes := make([]string, 0, len(files))
	for _, f := range files {
		if norm := backend.NormalizeFilter(f); norm != "" {
			includes = append(includes, norm)
		}
	}
	if err := b.doRestore(b.ctx, b.repo, id, destination, includes); err != nil {
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

	if _, err := b.GetBackup(id); err != nil {
		return err
	}
	if _, err := b.run(b.ctx, b.repo, "forget", "--prune", id); err != nil {
		return err
	}
	return nil
}

// VerifyBackup checks the snapshot still exists in the repository.
func (b *Backend) VerifyBackup(id string) (bool, error) {
	snaps, err := b.snapshots(b.ctx, b.repo, id)
	if err != nil {
		return false, nil
	}
	return len(snaps) > 0, nil
}

func (b *Backend) GetBackup(id string) (*backend.Metadata, error) {
	snaps, err := b.snapshots(b.ctx, b.repo, id)
	if err != nil || len(snaps) == 0 {
		return nil, fmt.Errorf("%w: %s", backend.ErrNotFound, id)
	}
	meta := b.snapshotMetadata(snaps[0])
	if stats, err := b.stats(b.ctx, b.repo, id); err == nil {
		meta.SizeBytes = stats.TotalSize
		meta.FileCount = stats.TotalFileCount
	}
	return &meta, nil
}

func (b *Backend) ListFiles(id string, path string) ([]backend.FileEntry, error) {
	nodes, err := b.ls(b.ctx, b.repo, id, backend.NormalizeFilter(path))
	if err != nil {
		return nil, err
	}
	entries := make([]backend.FileEntry, 0, len(nodes))
	for _, node := range nodes {
		perm := node.Mode & 0o777
		if perm == 0 {
			perm = backend.DefaultPermissions
		}
		modified := node.MTime
		if modified.IsZero() {
			modified = b.now().UTC()
		}
		entries = append(entries, backend.FileEntry{
			Path:        strings.TrimPrefix(node.Path, "/"),
			IsDir:       node.Type == "dir",
			Size:        node.Size,
			Modified:    modified.UTC(),
			Permissions: perm,
		})
	}
	backend.SortFileEntries(entries)
	return entries, nil
}

func (b *Backend) GetStorageUsage() (backend.StorageUsage, error) {
	stats, err := b.stats(b.ctx, b.repo, "")
	if err != nil {
		return backend.StorageUsage{}, err
	}
	snaps, err := b.snapshots(b.ctx, b.repo)
	if err != nil {
		return backend.StorageUsage{}, err
	}
	// Capacity depends on whatever stores the repository; restic cannot
	// report it.
	return backend.StorageUsage{
		UsedBytes:   stats.TotalSize,
		BackupCount: uint64(len(snaps)),
	}, nil
}
