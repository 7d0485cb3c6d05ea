// Package rsync wraps the ssh and rsync binaries for the remote-host
// backend. File content moves with rsync over an ssh remote shell;
// structural checks and small reads run as remote ssh commands.
package rsync

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Config identifies the remote host and how to reach it.
type Config struct {
	Host string
	Port uint16
	User string
	// KeyPath optionally selects an SSH identity file.
	KeyPath string
	// BandwidthLimitKB throttles rsync transfers, in KiB/s. Zero means
	// unlimited.
	BandwidthLimitKB uint64
}

// UserHost renders the user@host connection string.
func (c Config) UserHost() string {
	return fmt.Sprintf("%s@%s", c.User, c.Host)
}

// sshCommand renders the remote-shell string rsync is given via -e.
func (c Config) sshCommand() string {
	cmd := fmt.Sprintf("ssh -p %d", c.Port)
	if c.KeyPath != "" {
		cmd += " -i " + c.KeyPath
	}
	return cmd
}

// IsInstalled reports whether both ssh and rsync can be found on PATH.
func IsInstalled() bool {
	if _, err := exec.LookPath("ssh"); err != nil {
		return false
	}
	_, err := exec.LookPath("rsync")
	return err == nil
}

// SSH runs one command on the remote host and returns its stdout.
func SSH(ctx context.Context, cfg Config, remoteCmd string) (string, error) {
	args := []string{"-p", fmt.Sprintf("%d", cfg.Port)}
	if cfg.KeyPath != "" {
		args = append(args, "-i", cfg.KeyPath)
	}
	args = append(args, cfg.UserHost(), remoteCmd)
	log.Debug().Str("host", cfg.Host).Str("cmd", remoteCmd).Msg("ssh")
	cmd := exec.CommandContext(ctx, "ssh", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ssh %s: %w: %s", cfg.Host, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Sync runs rsync between src and dest, either of which may be a
// user@host:path spec. extraArgs come before the paths, so include/exclude
// filters apply.
func Sync(ctx context.Context, cfg Config, src, dest string, extraArgs ...string) (string, error) {
	args := []string{"-az", "--delete", "-e", cfg.sshCommand()}
	if cfg.BandwidthLimitKB > 0 {
		args = append(args, fmt.Sprintf("--bwlimit=%d", cfg.BandwidthLimitKB))
	}
	args = append(args, extraArgs...)
	args = append(args, src, dest)
	log.Debug().Strs("args", args).Msg("rsync")
	cmd := exec.CommandContext(ctx, "rsync", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("rsync: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// existence markers echoed by the remote test commands.
const okMarker = "OK"

// FileExists checks for a regular file on the remote host.
func FileExists(ctx context.Context, cfg Config, path string) bool {
	out, err := SSH(ctx, cfg, fmt.Sprintf("test -f %q && echo %s", path, okMarker))
	return err == nil && strings.Contains(out, okMarker)
}

// DirExists checks for a directory on the remote host.
func DirExists(ctx context.Context, cfg Config, path string) bool {
	out, err := SSH(ctx, cfg, fmt.Sprintf("test -d %q && echo %s", path, okMarker))
	return err == nil && strings.Contains(out, okMarker)
}

// Mkdir creates a directory tree on the remote host.
func Mkdir(ctx context.Context, cfg Config, path string) error {
	_, err := SSH(ctx, cfg, fmt.Sprintf("mkdir -p %q", path))
	return err
}

// Remove deletes a path tree on the remote host.
func Remove(ctx context.Context, cfg Config, path string) error {
	_, err := SSH(ctx, cfg, fmt.Sprintf("rm -rf %q", path))
	return err
}

// ReadFile returns the content of a remote file.
func ReadFile(ctx context.Context, cfg Config, path string) (string, error) {
	return SSH(ctx, cfg, fmt.Sprintf("cat %q", path))
}

// PushFile writes data to a remote path by serializing it to a local temp
// file and transferring that file with rsync. Interpolating content into a
// remote shell command would be a quoting and injection hazard.
func PushFile(ctx context.Context, cfg Config, data []byte, remotePath string) error {
	tmp, err := os.CreateTemp("", "snapvault-push-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	dest := fmt.Sprintf("%s:%s", cfg.UserHost(), remotePath)
	if _, err := Sync(ctx, cfg, tmp.Name(), dest); err != nil {
		return err
	}
	return nil
}

// DiskUsage returns the total size in bytes of a remote directory tree,
// parsed from `du -sb`.
func DiskUsage(ctx context.Context, cfg Config, path string) (uint64, error) {
	out, err := SSH(ctx, cfg, fmt.Sprintf("du -sb %q", path))
	if err != nil {
		return 0, err
	}
	return parseFirstUint(out), nil
}

// FSUsage reports the total and available bytes of the filesystem holding a
// remote path, parsed from `df -B1`.
func FSUsage(ctx context.Context, cfg Config, path string) (total, available uint64, err error) {
	out, err := SSH(ctx, cfg, fmt.Sprintf("df -B1 %q | tail -1", path))
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(out)
	if len(fields) >= 4 {
		total = parseFirstUint(fields[1])
		available = parseFirstUint(fields[3])
	}
	return total, available, nil
}

// parseFirstUint reads the first whitespace-delimited token of s as an
// unsigned integer, returning 0 when it is absent or malformed.
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
