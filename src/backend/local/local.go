// Package local implements the backup backend for a directory on the local
// filesystem. Layout: <base>/<id>/metadata.json and <base>/<id>/data/...
package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"snapvault/src/backend"
	"snapvault/src/util/progress"
)

const (
	metadataFile = "metadata.json"
	dataDir      = "data"
)

// Backend stores backups under a base directory.
type Backend struct {
	base  string
	locks *backend.Locks
	now   func() time.Time
}

// New returns a backend rooted at base. The directory does not have to
// exist yet; TestConnection creates it.
func New(base string) (*Backend, error) {
	if base == "" {
		return nil, errors.New("local backend base path must not be empty")
	}
	if !filepath.IsAbs(base) {
		return nil, fmt.Errorf("local backend base path must be absolute: %q", base)
	}
	return &Backend{base: filepath.Clean(base), locks: backend.NewLocks(), now: time.Now}, nil
}

func (b *Backend) backupPath(id string) string   { return filepath.Join(b.base, id) }
func (b *Backend) dataPath(id string) string     { return filepath.Join(b.base, id, dataDir) }
func (b *Backend) metadataPath(id string) string { return filepath.Join(b.base, id, metadataFile) }

func (b *Backend) Name() string { return "Local" }

func (b *Backend) IsAvailable() bool {
	info, err := os.Stat(b.base)
	return err == nil && info.IsDir()
}

// TestConnection creates the base directory when missing and proves write
// access with a throwaway file.
func (b *Backend) TestConnection() error {
	if err := os.MkdirAll(b.base, 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	probe := filepath.Join(b.base, ".write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("backup directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("remove write probe: %w", err)
	}
	return nil
}

func (b *Backend) ListBackups() ([]backend.Metadata, error) {
	entries, err := os.ReadDir(b.base)
	if err != nil {
		if os.IsNotExist(err) {
			return []backend.Metadata{}, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}
	backups := []backend.Metadata{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(b.metadataPath(e.Name()))
		if err != nil {
			continue
		}
		var meta backend.Metadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			// Malformed sidecars are skipped, never fatal.
			continue
		}
		backups = append(backups, meta)
	}
	backend.SortBackups(backups)
	return backups, nil
}

// newUniqueID generates an id and disambiguates a same-second collision
// with a numeric suffix before any directory is created.
func (b *Backend) newUniqueID() string {
	id := backend.NewID(b.now())
	candidate := id
	for n := 2; ; n++ {
		if _, err := os.Stat(b.backupPath(candidate)); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d", id, n)
	}
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

	id := b.newUniqueID()
	release, err := b.locks.Acquire(id)
	if err != nil {
		return backend.Metadata{}, err
	}
	defer release()

	dataPath := b.dataPath(id)
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return backend.Metadata{}, fmt.Errorf("create backup directory: %w", err)
	}

	prog.Report(backend.Progress{CurrentFile: "Scanning files...", Phase: backend.PhaseScanning})

	// First pass: totals for progress reporting.
	var totalFiles, totalBytes uint64
	for _, src := range sources {
		files, bytes, err := countTree(src)
		if err != nil {
			return backend.Metadata{}, fmt.Errorf("scan %s: %w", src, err)
		}
		totalFiles += files
		totalBytes += bytes
	}

	// Second pass: copy, one progress update per regular file.
	tracker := progress.NewTracker(totalFiles, totalBytes, b.now)
	for _, src := range sources {
		destRoot := filepath.Join(dataPath, sourceBasename(src))
		if err := copyTree(src, destRoot, func(file string, size uint64) {
			prog.Report(tracker.Update(file, size))
		}); err != nil {
			return backend.Metadata{}, fmt.Errorf("copy %s: %w", src, err)
		}
	}

	processedFiles, processedBytes := tracker.Totals()
	meta := backend.Metadata{
		ID:          id,
		Name:        name,
		Timestamp:   b.now().UTC(),
		BackupType:  typ,
		SizeBytes:   processedBytes,
		FileCount:   processedFiles,
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
		FilesProcessed: processedFiles,
		FilesTotal:     totalFiles,
		BytesProcessed: processedBytes,
		BytesTotal:     totalBytes,
		Phase:          backend.PhaseComplete,
	})
	return meta, nil
}

func (b *Backend) writeMetadata(meta backend.Metadata) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(b.metadataPath(meta.ID), raw, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func (b *Backend) RestoreBackup(id string, destination string, files []string, prog backend.ProgressFunc) error {
	release, err := b.locks.Acquire(id)
	if err != nil {
		return err
	}
	defer release()

	dataPath := b.dataPath(id)
	if _, err := os.Stat(dataPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", backend.ErrNotFound, id)
		}
		return fmt.Errorf("stat backup data: %w", err)
	}
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	totalFiles, totalBytes, err := countFiltered(dataPath, files)
	if err != nil {
		return fmt.Errorf("scan backup data: %w", err)
	}

	tracker := progress.NewTracker(totalFiles, totalBytes, b.now)
	err = filepath.WalkDir(dataPath, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dataPath, p)
		if err != nil || rel == "." {
			return err
		}
		if !backend.MatchFilter(filepath.ToSlash(rel), files) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		dest := filepath.Join(destination, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := copyFile(p, dest); err != nil {
			return err
		}
		prog.Report(tracker.Update(p, uint64(info.Size())))
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}

	processedFiles, processedBytes := tracker.Totals()
	prog.Report(backend.Progress{
		CurrentFile:    "Complete",
		FilesProcessed: processedFiles,
		FilesTotal:     totalFiles,
		BytesProcessed: processedBytes,
		BytesTotal:     totalBytes,
		Phase:          backend.PhaseComplete,
	})
	return nil
}

func (b *Backend) DeleteBackup(id string) error {
	release, err := b.locks.Acquire(id)
	if err != nil {
		return err
	}
	defer release()

	path := b.backupPath(id)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", backend.ErrNotFound, id)
		}
		return fmt.Errorf("stat backup: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	return nil
}

// VerifyBackup checks the sidecar and data directory exist and that the
// recorded file count matches an actual recount.
func (b *Backend) VerifyBackup(id string) (bool, error) {
	meta, err := b.GetBackup(id)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	dataPath := b.dataPath(id)
	if info, err := os.Stat(dataPath); err != nil || !info.IsDir() {
		return false, nil
	}
	actual, _, err := countTree(dataPath)
	if err != nil {
		return false, fmt.Errorf("recount backup files: %w", err)
	}
	return actual == meta.FileCount, nil
}

func (b *Backend) GetBackup(id string) (*backend.Metadata, error) {
	raw, err := os.ReadFile(b.metadataPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", backend.ErrNotFound, id)
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta backend.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: unreadable metadata", backend.ErrNotFound, id)
	}
	return &meta, nil
}

func (b *Backend) ListFiles(id string, path string) ([]backend.FileEntry, error) {
	dataPath := b.dataPath(id)
	if _, err := os.Stat(dataPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", backend.ErrNotFound, id)
		}
		return nil, err
	}
	search := dataPath
	if path != "" {
		search = filepath.Join(dataPath, filepath.FromSlash(backend.NormalizeFilter(path)))
	}
	dirEntries, err := os.ReadDir(search)
	if err != nil {
		if os.IsNotExist(err) {
			return []backend.FileEntry{}, nil
		}
		return nil, fmt.Errorf("list backup files: %w", err)
	}
	entries := make([]backend.FileEntry, 0, len(dirEntries))
	for _, e := range dirEntries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(dataPath, filepath.Join(search, e.Name()))
		if err != nil {
			continue
		}
		entries = append(entries, backend.FileEntry{
			Path:        filepath.ToSlash(rel),
			IsDir:       e.IsDir(),
			Size:        uint64(info.Size()),
			Modified:    info.ModTime().UTC(),
			Permissions: uint32(info.Mode().Perm()),
		})
	}
	backend.SortFileEntries(entries)
	return entries, nil
}

func (b *Backend) GetStorageUsage() (backend.StorageUsage, error) {
	_, used, err := countTree(b.base)
	if err != nil && !os.IsNotExist(err) {
		return backend.StorageUsage{}, fmt.Errorf("measure backup directory: %w", err)
	}
	backups, err := b.ListBackups()
	if err != nil {
		return backend.StorageUsage{}, err
	}
	capacityPath := b.base
	if _, err := os.Stat(capacityPath); os.IsNotExist(err) {
		// Base not created yet; measure the filesystem it would live on.
		capacityPath = filepath.Dir(b.base)
	}
	total, avail, err := fsCapacity(capacityPath)
	if err != nil {
		return backend.StorageUsage{}, fmt.Errorf("query filesystem capacity: %w", err)
	}
	return backend.StorageUsage{
		UsedBytes:      used,
		AvailableBytes: avail,
		TotalBytes:     total,
		BackupCount:    uint64(len(backups)),
	}, nil
}

// sourceBasename names the directory a source is mirrored under. A root
// path like "/" has no basename and maps to "root".
func sourceBasename(src string) string {
	base := filepath.Base(filepath.Clean(src))
	if base == string(filepath.Separator) || base == "." || strings.TrimSpace(base) == "" {
		return "root"
	}
	return base
}

// countTree returns the number of regular files under path and their total
// size. A path to a single regular file counts as one.
func countTree(path string) (files, bytes uint64, err error) {
	err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		bytes += uint64(info.Size())
		return nil
	})
	return files, bytes, err
}

func countFiltered(dataPath string, filters []string) (files, bytes uint64, err error) {
	err = filepath.WalkDir(dataPath, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dataPath, p)
		if err != nil || rel == "." {
			return err
		}
		if !backend.MatchFilter(filepath.ToSlash(rel), filters) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		bytes += uint64(info.Size())
		return nil
	})
	return files, bytes, err
}

// copyTree mirrors src (file or directory) under destRoot, invoking onFile
// after each regular file is copied.
func copyTree(src, destRoot string, onFile func(file string, size uint64)) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if err := copyFile(src, destRoot); err != nil {
			return err
		}
		onFile(src, uint64(info.Size()))
		return nil
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		dest := filepath.Join(destRoot, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if err := copyFile(p, dest); err != nil {
			return err
		}
		onFile(p, uint64(fi.Size()))
		return nil
	})
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
