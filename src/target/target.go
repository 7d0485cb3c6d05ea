// Package target parses backend target URIs. A target names a backend
// flavor and its storage location in one string, e.g. on the command line.
package target

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// Schemes accepted by the parser.
const (
	SchemeDir    = "dir"
	SchemeRclone = "rclone"
	SchemeSSH    = "ssh"
	SchemeRestic = "restic"
)

// Target is a parsed backend target.
//
//	dir:/mnt/backups
//	rclone:gdrive:Backups/laptop
//	ssh://alice@nas.local:2222/srv/backups
//	restic:/srv/restic-repo
type Target struct {
	// Raw is the original input string.
	Raw    string
	Scheme string

	// DirPath is set for dir targets: a cleaned absolute path.
	DirPath string

	// Remote and RemotePath are set for rclone targets.
	Remote     string
	RemotePath string

	// User, Host, Port and HostPath are set for ssh targets.
	User     string
	Host     string
	Port     uint16
	HostPath string

	// Repository is set for restic targets.
	Repository string
}

// Parse parses a target URI into a Target structure.
func Parse(raw string) (Target, error) {
	t := Target{Raw: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		return t, fmt.Errorf("target must not be empty; expected format '<scheme>:<value>' (e.g., 'dir:/path')")
	}
	i := strings.Index(s, ":")
	if i <= 0 || i == len(s)-1 {
		return t, fmt.Errorf("invalid target %q; expected format '<scheme>:<value>'", raw)
	}
	scheme := strings.ToLower(s[:i])
	value := s[i+1:]

	switch scheme {
	case SchemeDir:
		clean := filepath.Clean(value)
		if !filepath.IsAbs(clean) {
			return t, fmt.Errorf("directory target must be an absolute path: %q", value)
		}
		t.Scheme = SchemeDir
		t.DirPath = clean
	case SchemeRclone:
		// rclone:<remote>:<path>
		j := strings.Index(value, ":")
		if j <= 0 || j == len(value)-1 {
			return t, fmt.Errorf("invalid rclone target %q; expected 'rclone:<remote>:<path>'", raw)
		}
		t.Scheme = SchemeRclone
		t.Remote = value[:j]
		t.RemotePath = strings.TrimSuffix(value[j+1:], "/")
	case SchemeSSH:
		u, err := url.Parse(s)
		if err != nil {
			return t, fmt.Errorf("invalid ssh target %q: %w", raw, err)
		}
		if u.Host == "" || u.User == nil || u.User.Username() == "" || u.Path == "" {
			return t, fmt.Errorf("invalid ssh target %q; expected 'ssh://user@host[:port]/path'", raw)
		}
		port := uint16(22)
		if p := u.Port(); p != "" {
			n, err := strconv.ParseUint(p, 10, 16)
			if err != nil || n == 0 {
				return t, fmt.Errorf("invalid ssh port in target %q", raw)
			}
			port = uint16(n)
		}
		t.Scheme = SchemeSSH
		t.User = u.User.Username()
		t.Host = u.Hostname()
		t.Port = port
		t.HostPath = strings.TrimSuffix(u.Path, "/")
	case SchemeRestic:
		if value == "" {
			return t, fmt.Errorf("restic target repository must not be empty")
		}
		t.Scheme = SchemeRestic
		t.Repository = value
	default:
		return t, fmt.Errorf("unsupported backend scheme %q", scheme)
	}
	return t, nil
}

// String returns a canonical string form of the target.
func (t Target) String() string {
	switch t.Scheme {
	case SchemeDir:
		return fmt.Sprintf("%s:%s", t.Scheme, t.DirPath)
	case SchemeRclone:
		return fmt.Sprintf("%s:%s:%s", t.Scheme, t.Remote, t.RemotePath)
	case SchemeSSH:
		return fmt.Sprintf("ssh://%s@%s:%d%s", t.User, t.Host, t.Port, t.HostPath)
	case SchemeRestic:
		return fmt.Sprintf("%s:%s", t.Scheme, t.Repository)
	}
	return t.Raw
}
