// Package cloud implements the backup backend for an rclone remote, such
// as a cloud-drive account. All storage operations shell out to rclone
// against <remote>:<path>/<id>/.
package cloud

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
	"snapvault/src/rclone"
)

// Provider enumerates the supported cloud-drive kinds.
type Provider string

const (
	GoogleDrive Provider = "gdrive"
	Dropbox     Provider = "dropbox"
	OneDrive    Provider = "onedrive"
)

// RcloneType returns the rclone remote type for the provider.
func (p Provider) RcloneType() string {
	switch p {
	case GoogleDrive:
		return "drive"
	case Dropbox:
		return "dropbox"
	case OneDrive:
		return "onedrive"
	}
	return string(p)
}

// DisplayName returns the human-facing provider name.
func (p Provider) DisplayName() string {
	switch p {
	case GoogleDrive:
		return "Google Drive"
	case Dropbox:
		return "Dropbox"
	case OneDrive:
		return "OneDrive"
	}
	return string(p)
}

// Config selects the remote a cloud backend talks to.
type Config struct {
	Provider Provider
	// Remote is the rclone remote name, which must already be configured
	// via `rclone config`.
	Remote string
	// Path is the base directory on the remote under which backups live.
	Path string
	// BandwidthLimitKB throttles transfers, in KiB/s. Zero means unlimited.
	BandwidthLimitKB uint64
}

// Backend stores backups on an rclone remote.
type Backend struct {
	ctx   context.Context
	cfg   Config
	opts  rclone.Options
	locks *backend.Locks
	now   func() time.Time

	// Subprocess seams, replaced in tests.
	run         func(ctx context.Context, opts rclone.Options, args ...string) (string, error)
	listRemotes func(ctx context.Context) ([]string, error)
	installed   func() bool
}

// New returns a backend for the configured remote. The context bounds
// every rclone subprocess the backend spawns.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Remote == "" {
		return nil, errors.New("cloud backend remote name must not be empty")
	}
	if cfg.Path == "" {
		return nil, errors.New("cloud backend remote path must not be empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Backend{
		ctx:         ctx,
		cfg:         cfg,
		opts:        rclone.Options{BandwidthLimitKB: cfg.BandwidthLimitKB},
		locks:       backend.NewLocks(),
		now:         time.Now,
		run:         rclone.Run,
		listRemotes: rclone.ListRemotes,
		installed:   rclone.IsInstalled,
	}, nil
}

func (b *Backend) basePath() string {
	return fmt.Sprintf("%s:%s", b.cfg.Remote, strings.TrimSuffix(b.cfg.Path, "/"))
}

func (b *Backend) backupPath(id string) string   { return b.basePath() + "/" + id }
func (b *Backend) dataPath(id string) string     { return b.backupPath(id) + "/data" }
func (b *Backend) metadataPath(id string) string { return b.backupPath(id) + "/metadata.json" }

func (b *Backend) Name() string { return b.cfg.Provider.DisplayName() }

// IsAvailable requires both the rclone binary on PATH and the named remote
// already configured on this system.
func (b *Backend) IsAvailable() bool {
	if !b.installed() {
		return false
	}
	remotes, err := b.listRemotes(b.ctx)
	if err != nil {
		return false
	}
	for _, r := range remotes {
		if r == b.cfg.Remote {
			return true
		}
	}
	return false
}

func (b *Backend) TestConnection() error {
	if !b.IsAvailable() {
		return fmt.Errorf("remote %q is not configured; run `rclone config` to set it up", b.cfg.Remote)
	}
	if _, err := b.run(b.ctx, b.opts, "mkdir", b.basePath()); err != nil {
		return err
	}
	return nil
}

func (b *Backend) ListBackups() ([]backend.Metadata, error) {
	out, err := b.run(b.ctx, b.opts, "lsjson", b.basePath())
	if err != nil {
		return nil, err
	}
	var entries []rclone.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		return nil, fmt.Errorf("parse remote listing: %w", err)
	}
	backups := []backend.Metadata{}
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		raw, err := b.run(b.ctx, b.opts, "cat", b.metadataPath(e.Name))
		if err != nil {
			// Directories without a readable sidecar are skipped.
			continue
		}
		var meta backend.Metadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
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

	if _, err := b.run(b.ctx, b.opts, "mkdir", b.dataPath(id)); err != nil {
		return backend.Metadata{}, err
	}

	prog.Report(backend.Progress{CurrentFile: "Preparing upload...", Phase: backend.PhaseScanning})

	var totalFiles, totalBytes uint64
	for _, src := range sources {
		info, err := os.Stat(src)
		if err != nil {
			return backend.Metadata{}, fmt.Errorf("source not accessible: %w", err)
		}
		dest := b.dataPath(id) + "/" + sourceBasename(src)
		prog.Report(backend.Progress{
			CurrentFile: fmt.Sprintf("Uploading %s...", src),
			Phase:       backend.PhaseBacking,
		})
		// sync mirrors a directory tree; a regular file goes up with copyto
		// so it keeps its name under data/.
		verb := "sync"
		if !info.IsDir() {
			verb = "copyto"
		}
		if _, err := b.run(b.ctx, b.opts, verb, src, dest); err != nil {
			return backend.Metadata{}, err
		}
		// The per-source transfer totals come from a remote size query;
		// missing fields default to zero instead of failing the backup.
		sizeOut, err := b.run(b.ctx, b.opts, "size", "--json", dest)
		if err == nil {
			var info rclone.SizeInfo
			if json.Unmarshal([]byte(sizeOut), &info) == nil {
				totalFiles += info.Count
				totalBytes += info.Bytes
			}
		}
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
	if err := b.writeMetadata(meta); err != nil {
		return backend.Metadata{}, err
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

// writeMetadata serializes the sidecar to a local temp file and uploads it
// with copyto. The temp file is removed via defer so cleanup happens even
// when the upload fails.
func (b *Backend) writeMetadata(meta backend.Metadata) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	tmp, err := os.CreateTemp("", "snapvault-metadata-*.json")
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp metadata file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp metadata file: %w", err)
	}
	if _, err := b.run(b.ctx, b.opts, "copyto", tmp.Name(), b.metadataPath(meta.ID)); err != nil {
		return err
	}
	return nil
}

func (b *Backend) RestoreBackup(id string, destination string, files []string, prog backend.ProgressFunc) error {
	release, err := b.locks.Acquire(id)
	if err != nil {
		return err
	}
	defer release()

	if exists, err := b.exists(id); err != nil {
		return err
	} else if !exists {
		return fmt.Errorf("%w: %s", backend.ErrNotFound, id)
	}
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	prog.Report(backend.Progress{CurrentFile: "Downloading...", Phase: backend.PhaseBacking})

	args := []string{"sync", b.dataPath(id), destination}
	args = append(args, backend.SyncFilterArgs(files)...)
	if _, err := b.run(b.ctx, b.opts, args...); err != nil {
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

	if exists, err := b.exists(id); err != nil {
		return err
	} else if !exists {
		return fmt.Errorf("%w: %s", backend.ErrNotFound, id)
	}
	if _, err := b.run(b.ctx, b.opts, "purge", b.backupPath(id)); err != nil {
		return err
	}
	return nil
}

func (b *Backend) VerifyBackup(id string) (bool, error) {
	if _, err := b.run(b.ctx, b.opts, "lsf", b.metadataPath(id)); err != nil {
		return false, nil
	}
	if _, err := b.run(b.ctx, b.opts, "lsf", b.dataPath(id)); err != nil {
		return false, nil
	}
	return true, nil
}

func (b *Backend) GetBackup(id string) (*backend.Metadata, error) {
	raw, err := b.run(b.ctx, b.opts, "cat", b.metadataPath(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", backend.ErrNotFound, id)
	}
	var meta backend.Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: unreadable metadata", backend.ErrNotFound, id)
	}
	return &meta, nil
}

func (b *Backend) ListFiles(id string, path string) ([]backend.FileEntry, error) {
	search := b.dataPath(id)
	if path != "" {
		search += "/" + backend.NormalizeFilter(path)
	}
	out, err := b.run(b.ctx, b.opts, "lsjson", search)
	if err != nil {
		return nil, err
	}
	var raw []rclone.Entry
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("parse remote listing: %w", err)
	}
	prefix := backend.NormalizeFilter(path)
	entries := make([]backend.FileEntry, 0, len(raw))
	for _, e := range raw {
		rel := e.Name
		if prefix != "" {
			rel = prefix + "/" + e.Name
		}
		size := uint64(0)
		if e.Size > 0 {
			size = uint64(e.Size)
		}
		entries = append(entries, backend.FileEntry{
			Path:        rel,
			IsDir:       e.IsDir,
			Size:        size,
			Modified:    e.Modified(b.now().UTC()),
			Permissions: backend.DefaultPermissions,
		})
	}
	backend.SortFileEntries(entries)
	return entries, nil
}

func (b *Backend) GetStorageUsage() (backend.StorageUsage, error) {
	out, err := b.run(b.ctx, b.opts, "about", "--json", b.cfg.Remote+":")
	if err != nil {
		return backend.StorageUsage{}, err
	}
	var about rclone.AboutInfo
	// Providers without quota reporting produce partial JSON; defaults
	// stand in for whatever is missing.
	_ = json.Unmarshal([]byte(out), &about)
	if about.Free == 0 && about.Total >= about.Used {
		about.Free = about.Total - about.Used
	}
	backups, err := b.ListBackups()
	if err != nil {
		return backend.StorageUsage{}, err
	}
	return backend.StorageUsage{
		UsedBytes:      about.Used,
		AvailableBytes: about.Free,
		TotalBytes:     about.Total,
		BackupCount:    uint64(len(backups)),
	}, nil
}

func (b *Backend) exists(id string) (bool, error) {
	_, err := b.run(b.ctx, b.opts, "lsf", b.backupPath(id))
	if err != nil {
		return false, nil
	}
	return true, nil
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
