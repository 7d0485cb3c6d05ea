package backend

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// BackupType classifies what a backup contains. The engine treats it as an
// opaque label; callers pick whatever fits their sources.
type BackupType string

const (
	TypeSystem BackupType = "system"
	TypeHome   BackupType = "home"
	TypeConfig BackupType = "config"
	TypeCustom BackupType = "custom"
)

// Compression records the codec a backup was created with. No codec is
// implemented in this layer; the field is descriptive only.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// Phase identifies the stage a progress update belongs to. Restore reuses
// PhaseBacking and PhaseComplete.
type Phase string

const (
	PhaseScanning Phase = "scanning"
	PhaseBacking  Phase = "backing"
	PhaseComplete Phase = "complete"
)

// Metadata describes one backup. It is persisted verbatim as the
// metadata.json sidecar beside the backup's data directory.
type Metadata struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Timestamp   time.Time   `json:"timestamp"`
	BackupType  BackupType  `json:"backup_type"`
	SizeBytes   uint64      `json:"size_bytes"`
	FileCount   uint64      `json:"file_count"`
	Compression Compression `json:"compression"`
	Encrypted   bool        `json:"encrypted"`
	Verified    bool        `json:"verified"`
	Tags        []string    `json:"tags"`
}

// Progress is one snapshot handed to a progress sink. Updates arrive inline
// on the calling goroutine; sinks must be cheap and non-blocking.
type Progress struct {
	CurrentFile      string
	FilesProcessed   uint64
	FilesTotal       uint64
	BytesProcessed   uint64
	BytesTotal       uint64
	SpeedBytesPerSec uint64
	// ETASeconds is 0 when no estimate is available.
	ETASeconds uint64
	Phase      Phase
}

// ProgressFunc receives progress snapshots. A nil ProgressFunc is always
// accepted and means the caller does not want updates.
type ProgressFunc func(Progress)

// Report invokes fn when it is non-nil.
func (fn ProgressFunc) Report(p Progress) {
	if fn != nil {
		fn(p)
	}
}

// FileEntry describes one entry inside a backup's data tree.
type FileEntry struct {
	Path        string    `json:"path"`
	IsDir       bool      `json:"is_dir"`
	Size        uint64    `json:"size"`
	Modified    time.Time `json:"modified"`
	Permissions uint32    `json:"permissions"`
}

// DefaultPermissions is reported for transports that cannot return a mode.
const DefaultPermissions uint32 = 0o644

// StorageUsage describes the storage target as a whole, not one backup.
type StorageUsage struct {
	UsedBytes      uint64 `json:"used_bytes"`
	AvailableBytes uint64 `json:"available_bytes"`
	TotalBytes     uint64 `json:"total_bytes"`
	BackupCount    uint64 `json:"backup_count"`
}

// ErrNotFound is returned when the referenced backup id does not exist in
// the backend's storage location. All backends use it uniformly, including
// DeleteBackup on an unknown id.
var ErrNotFound = errors.New("backup not found")

// ErrBusy is returned when a mutating operation is already running against
// the same backup id on this backend instance.
var ErrBusy = errors.New("operation already in progress for this backup")

// Backend is the storage contract implemented by every backend flavor.
// Operations are synchronous and blocking; a progress sink, when supplied,
// is invoked zero or more times before the call returns, always terminated
// by exactly one PhaseComplete update.
type Backend interface {
	// Name returns a display label for the backend.
	Name() string
	// IsAvailable reports whether the external capability the backend
	// depends on (binary on PATH, configured remote) is satisfied.
	IsAvailable() bool
	// TestConnection verifies reachability and ensures the backup root
	// exists, creating it when absent.
	TestConnection() error
	// ListBackups enumerates backups sorted by timestamp descending.
	// Malformed sidecars are skipped, not fatal.
	ListBackups() ([]Metadata, error)
	// CreateBackup copies each source under data/<source-basename>/...
	// and persists the metadata sidecar before returning. Only regular
	// files count toward FileCount/SizeBytes.
	CreateBackup(sources []string, name string, typ BackupType, compression Compression, encrypt bool, progress ProgressFunc) (Metadata, error)
	// RestoreBackup copies the backup's data into destination, creating it
	// if absent and overwriting existing files. When files is non-empty only
	// entries matching the ancestor-or-descendant filter rule are restored.
	RestoreBackup(id string, destination string, files []string, progress ProgressFunc) error
	// DeleteBackup removes the sidecar and data as one unit.
	DeleteBackup(id string) error
	// VerifyBackup checks structural existence of sidecar and data root.
	// This is not a content-integrity check; no checksums are computed.
	VerifyBackup(id string) (bool, error)
	// GetBackup returns the metadata for id, or nil with ErrNotFound when
	// the sidecar is absent or unreadable.
	GetBackup(id string) (*Metadata, error)
	// ListFiles lists one directory level under the backup's data root
	// (path == "" for the root), directories first then lexicographic.
	ListFiles(id string, path string) ([]FileEntry, error)
	// GetStorageUsage reports usage of the storage target as a whole.
	GetStorageUsage() (StorageUsage, error)
}

// IDTimeFormat is the timestamp layout embedded in backup IDs.
const IDTimeFormat = "20060102-150405"

// NewID derives a backup id from the given creation time.
func NewID(now time.Time) string {
	return fmt.Sprintf("backup-%s", now.UTC().Format(IDTimeFormat))
}

// SortBackups orders metadata newest-first, the order every backend returns
// from ListBackups.
func SortBackups(backups []Metadata) {
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
}

// SortFileEntries orders a directory listing directories-first, then
// lexicographically by path.
func SortFileEntries(entries []FileEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDir != b.IsDir {
			return a.IsDir
		}
		return a.Path < b.Path
	})
}
