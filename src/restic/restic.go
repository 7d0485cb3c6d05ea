// Package restic wraps the restic binary as subprocesses for the snapshot
// backend: detect, repository bootstrap, backup/restore, and the JSON
// listing commands.
package restic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Repo identifies a restic repository and how to unlock it.
type Repo struct {
	Repository string
	// Password unlocks the repository unless PasswordFile is set.
	Password     string
	PasswordFile string
	CacheDir     string
}

// BinaryInfo describes a detected restic CLI binary.
type BinaryInfo struct {
	Path    string
	Version string
}

var versionRegexp = regexp.MustCompile(`restic\s+([0-9]+\.[0-9]+\.[0-9]+(?:-[A-Za-z0-9.]+)?)`)

// Detect locates restic on PATH and queries its version. The context bounds
// the version subprocess.
func Detect(ctx context.Context) (BinaryInfo, error) {
	exe, err := exec.LookPath("restic")
	if err != nil {
		return BinaryInfo{}, fmt.Errorf("restic binary not found on PATH: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	out, err := exec.CommandContext(ctx, exe, "version").CombinedOutput()
	if err != nil {
		return BinaryInfo{}, fmt.Errorf("restic: query version: %w", err)
	}
	version, err := ExtractVersion(string(out))
	if err != nil {
		return BinaryInfo{}, err
	}
	return BinaryInfo{Path: exe, Version: version}, nil
}

// ExtractVersion derives the restic version string from `restic version`
// output.
func ExtractVersion(output string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		if matches := versionRegexp.FindStringSubmatch(scanner.Text()); len(matches) == 2 {
			return matches[1], nil
		}
	}
	return "", fmt.Errorf("restic: could not parse version output")
}

// IsInstalled reports whether restic can be found on PATH.
func IsInstalled() bool {
	_, err := exec.LookPath("restic")
	return err == nil
}

func (r Repo) args(sub string, rest ...string) []string {
	args := []string{"-r", r.Repository}
	if r.PasswordFile != "" {
		args = append(args, "--password-file", r.PasswordFile)
	}
	if r.CacheDir != "" {
		args = append(args, "--cache-dir", r.CacheDir)
	}
	args = append(args, sub)
	return append(args, rest...)
}

func (r Repo) env() []string {
	env := os.Environ()
	if r.PasswordFile == "" {
		env = append(env, "RESTIC_PASSWORD="+r.Password)
	}
	return env
}

// Run executes one restic subcommand and returns its stdout. A non-zero
// exit wraps the captured stderr into the returned error.
func Run(ctx context.Context, repo Repo, sub string, rest ...string) (string, error) {
	args := repo.args(sub, rest...)
	log.Debug().Str("repo", repo.Repository).Strs("args", append([]string{sub}, rest...)).Msg("restic")
	cmd := exec.CommandContext(ctx, "restic", args...)
	cmd.Env = repo.env()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("restic %s: %w: %s", sub, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// EnsureRepository probes the repository and initializes it when restic
// reports that it does not exist yet.
func EnsureRepository(ctx context.Context, repo Repo) error {
	_, err := Run(ctx, repo, "snapshots", "--latest", "1", "--json")
	if err == nil {
		return nil
	}
	if isNotRepository(err.Error()) {
		if _, initErr := Run(ctx, repo, "init"); initErr != nil {
			return fmt.Errorf("initialize repository: %w", initErr)
		}
		return nil
	}
	return err
}

func isNotRepository(msg string) bool {
	s := strings.ToLower(msg)
	return strings.Contains(s, "is not a repository") ||
		strings.Contains(s, "repository does not exist") ||
		strings.Contains(s, "does not look like a restic repository")
}

// Snapshot is one record of `restic snapshots --json`.
type Snapshot struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id"`
	Time     time.Time `json:"time"`
	Hostname string    `json:"hostname"`
	Tags     []string  `json:"tags"`
	Paths    []string  `json:"paths"`
}

// Snapshots lists snapshots, optionally narrowed to the given ids.
func Snapshots(ctx context.Context, repo Repo, ids ...string) ([]Snapshot, error) {
	args := append([]string{"--json"}, ids...)
	out, err := Run(ctx, repo, "snapshots", args...)
	if err != nil {
		return nil, err
	}
	var snaps []Snapshot
	if err := json.Unmarshal([]byte(out), &snaps); err != nil {
		return nil, fmt.Errorf("restic snapshots: parse output: %w", err)
	}
	return snaps, nil
}

// Stats is the output of `restic stats --json`.
type Stats struct {
	TotalSize      uint64 `json:"total_size"`
	TotalFileCount uint64 `json:"total_file_count"`
}

// SnapshotStats queries `restic stats --json` for one snapshot or, with an
// empty id, the whole repository in raw-data mode.
func SnapshotStats(ctx context.Context, repo Repo, id string) (Stats, error) {
	args := []string{"--json"}
	if id == "" {
		args = append(args, "--mode", "raw-data")
	} else {
		args = append(args, id)
	}
	out, err := Run(ctx, repo, "stats", args...)
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		return Stats{}, nil
	}
	return stats, nil
}

// BackupSummary collects the fields of the summary line `restic backup
// --json` prints when it finishes.
type BackupSummary struct {
	SnapshotID   string
	FilesNew     uint64
	FilesChanged uint64
	DataAdded    uint64
}

// Backup runs `restic backup --json` over the given paths with the given
// tags and parses the emitted summary.
func Backup(ctx context.Context, repo Repo, paths []string, tags []string) (BackupSummary, error) {
	args := []string{"--json"}
	for _, tag := range tags {
		args = append(args, "--tag", tag)
	}
	args = append(args, paths...)
	out, err := Run(ctx, repo, "backup", args...)
	if err != nil {
		return BackupSummary{}, err
	}
	return ParseBackupOutput(out), nil
}

// ParseBackupOutput scans restic's line-delimited JSON backup output for
// the summary record. Lines that fail to decode are skipped.
func ParseBackupOutput(out string) BackupSummary {
	var summary BackupSummary
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line struct {
			MessageType  string `json:"message_type"`
			SnapshotID   string `json:"snapshot_id"`
			FilesNew     uint64 `json:"files_new"`
			FilesChanged uint64 `json:"files_changed"`
			DataAdded    uint64 `json:"data_added"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.SnapshotID != "" {
			summary.SnapshotID = line.SnapshotID
			summary.FilesNew = line.FilesNew
			summary.FilesChanged = line.FilesChanged
			summary.DataAdded = line.DataAdded
		}
	}
	return summary
}

// Restore runs `restic restore --target` with optional --include filters.
func Restore(ctx context.Context, repo Repo, snapshotID, target string, includes []string) error {
	args := []string{snapshotID, "--target", target}
	for _, inc := range includes {
		args = append(args, "--include", "/"+strings.TrimPrefix(inc, "/"))
	}
	_, err := Run(ctx, repo, "restore", args...)
	return err
}

// Forget removes a snapshot and prunes unreferenced data.
func Forget(ctx context.Context, repo Repo, snapshotID string) error {
	if _, err := Run(ctx, repo, "forget", "--prune", snapshotID); err != nil {
		return err
	}
	return nil
}

// Node is one record of `restic ls --json`.
type Node struct {
	StructType string    `json:"struct_type"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Path       string    `json:"path"`
	Size       uint64    `json:"size"`
	Mode       uint32    `json:"mode"`
	MTime      time.Time `json:"mtime"`
}

// Ls lists the nodes of one snapshot, optionally under a path.
func Ls(ctx context.Context, repo Repo, snapshotID, path string) ([]Node, error) {
	args := []string{"--json", snapshotID}
	if path != "" {
		args = append(args, "/"+strings.TrimPrefix(path, "/"))
	}
	out, err := Run(ctx, repo, "ls", args...)
	if err != nil {
		return nil, err
	}
	return ParseLsOutput(out), nil
}

// ParseLsOutput decodes restic's line-delimited ls output, skipping lines
// that are not node records.
func ParseLsOutput(out string) []Node {
	var nodes []Node
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var node Node
		if err := json.Unmarshal(scanner.Bytes(), &node); err != nil {
			continue
		}
		if node.StructType == "node" || (node.StructType == "" && node.Path != "" && node.Type != "") {
			nodes = append(nodes, node)
		}
	}
	return nodes
}
