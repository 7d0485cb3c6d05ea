// Package rclone wraps the rclone binary as subprocesses. Backends hand it
// a subcommand and arguments; it applies the global flag set, runs the
// command, and returns captured output with stderr folded into errors.
package rclone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// BinaryInfo describes a detected rclone CLI binary.
type BinaryInfo struct {
	Path    string
	Version string
}

// Detect locates rclone on PATH and queries its version. The context bounds
// the version subprocess.
func Detect(ctx context.Context) (BinaryInfo, error) {
	exe, err := exec.LookPath("rclone")
	if err != nil {
		return BinaryInfo{}, fmt.Errorf("rclone binary not found on PATH: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	out, err := exec.CommandContext(ctx, exe, "version").Output()
	if err != nil {
		return BinaryInfo{}, fmt.Errorf("rclone: query version: %w", err)
	}
	version := ""
	if fields := strings.Fields(strings.SplitN(string(out), "\n", 2)[0]); len(fields) >= 2 {
		version = strings.TrimPrefix(fields[1], "v")
	}
	return BinaryInfo{Path: exe, Version: version}, nil
}

// IsInstalled reports whether rclone can be found on PATH.
func IsInstalled() bool {
	_, err := exec.LookPath("rclone")
	return err == nil
}

// Options carries the global flags applied to every rclone invocation.
type Options struct {
	// BandwidthLimitKB throttles transfers, in KiB/s. Zero means unlimited.
	BandwidthLimitKB uint64
}

func (o Options) globalArgs() []string {
	var args []string
	if o.BandwidthLimitKB > 0 {
		args = append(args, "--bwlimit", fmt.Sprintf("%dk", o.BandwidthLimitKB))
	}
	return args
}

// Run executes one rclone subcommand and returns its stdout. A non-zero
// exit wraps the captured stderr into the returned error.
func Run(ctx context.Context, opts Options, args ...string) (string, error) {
	full := append(opts.globalArgs(), args...)
	log.Debug().Strs("args", full).Msg("rclone")
	cmd := exec.CommandContext(ctx, "rclone", full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("rclone %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// ListRemotes returns the remote names configured on this system, without
// their trailing colon.
func ListRemotes(ctx context.Context) ([]string, error) {
	out, err := Run(ctx, Options{}, "listremotes")
	if err != nil {
		return nil, err
	}
	var remotes []string
	for _, line := range strings.Split(out, "\n") {
		if name := strings.TrimSuffix(strings.TrimSpace(line), ":"); name != "" {
			remotes = append(remotes, name)
		}
	}
	return remotes, nil
}

// Entry is one record of `rclone lsjson`. Missing fields keep their zero
// values; a record that fails to decode entirely is the caller's concern.
type Entry struct {
	Name    string `json:"Name"`
	Path    string `json:"Path"`
	Size    int64  `json:"Size"`
	IsDir   bool   `json:"IsDir"`
	ModTime string `json:"ModTime"`
}

// Modified parses the entry's ModTime, falling back to fallback when it is
// absent or malformed.
func (e Entry) Modified(fallback time.Time) time.Time {
	t, err := time.Parse(time.RFC3339, e.ModTime)
	if err != nil {
		return fallback
	}
	return t.UTC()
}

// ListJSON runs `rclone lsjson` against a remote path.
func ListJSON(ctx context.Context, opts Options, remotePath string) ([]Entry, error) {
	out, err := Run(ctx, opts, "lsjson", remotePath)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		return nil, fmt.Errorf("rclone lsjson: parse output: %w", err)
	}
	return entries, nil
}

// SizeInfo is the output of `rclone size --json`.
type SizeInfo struct {
	Count uint64 `json:"count"`
	Bytes uint64 `json:"bytes"`
}

// Size runs `rclone size --json` against a remote path.
func Size(ctx context.Context, opts Options, remotePath string) (SizeInfo, error) {
	out, err := Run(ctx, opts, "size", "--json", remotePath)
	if err != nil {
		return SizeInfo{}, err
	}
	var info SizeInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		// Malformed size output degrades to zero totals rather than
		// failing the backup that triggered the query.
		return SizeInfo{}, nil
	}
	return info, nil
}

// AboutInfo is the output of `rclone about --json`. Providers that do not
// report quota leave fields at zero.
type AboutInfo struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

// About runs `rclone about --json` against a remote.
func About(ctx context.Context, opts Options, remote string) (AboutInfo, error) {
	out, err := Run(ctx, opts, "about", "--json", remote+":")
	if err != nil {
		return AboutInfo{}, err
	}
	var info AboutInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		return AboutInfo{}, nil
	}
	if info.Free == 0 && info.Total >= info.Used {
		info.Free = info.Total - info.Used
	}
	return info, nil
}
