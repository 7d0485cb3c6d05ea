// Package config manages the on-disk configuration file and constructs the
// configured backend from it.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"snapvault/src/backend"
	"snapvault/src/backend/cloud"
	"snapvault/src/backend/local"
	backendrestic "snapvault/src/backend/restic"
	"snapvault/src/backend/sshhost"
	"snapvault/src/restic"
	"snapvault/src/rsync"
	"snapvault/src/target"
)

// Config is the TOML configuration file. Only the section of the selected
// default backend has to be filled in.
type Config struct {
	// DefaultBackend selects which backend commands use when no --target
	// is given: local, cloud, ssh, or restic.
	DefaultBackend string `toml:"default_backend"`

	Local  LocalConfig  `toml:"local"`
	Cloud  CloudConfig  `toml:"cloud"`
	SSH    SSHConfig    `toml:"ssh"`
	Restic ResticConfig `toml:"restic"`
}

type LocalConfig struct {
	BasePath string `toml:"base_path"`
}

type CloudConfig struct {
	Provider         string `toml:"provider"`
	Remote           string `toml:"remote"`
	Path             string `toml:"path"`
	BandwidthLimitKB uint64 `toml:"bandwidth_limit_kb"`
}

type SSHConfig struct {
	Host             string `toml:"host"`
	Port             uint16 `toml:"port"`
	User             string `toml:"user"`
	Path             string `toml:"path"`
	KeyPath          string `toml:"key_path"`
	BandwidthLimitKB uint64 `toml:"bandwidth_limit_kb"`
}

type ResticConfig struct {
	Repository   string `toml:"repository"`
	Password     string `toml:"password"`
	PasswordFile string `toml:"password_file"`
	CacheDir     string `toml:"cache_dir"`
}

// DefaultPath returns the per-user configuration file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config directory: %w", err)
	}
	return filepath.Join(dir, "snapvault", "config.toml"), nil
}

// Load reads the configuration file at path. A missing file yields a zero
// config without error, so a fresh install works with --target alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// Backend constructs the backend selected by the config's default_backend.
func (c *Config) Backend(ctx context.Context) (backend.Backend, error) {
	switch c.DefaultBackend {
	case "local":
		return local.New(c.Local.BasePath)
	case "cloud":
		return cloud.New(ctx, cloud.Config{
			Provider:         cloud.Provider(c.Cloud.Provider),
			Remote:           c.Cloud.Remote,
			Path:             c.Cloud.Path,
			BandwidthLimitKB: c.Cloud.BandwidthLimitKB,
		})
	case "ssh":
		return sshhost.New(ctx, rsync.Config{
			Host:             c.SSH.Host,
			Port:             c.SSH.Port,
			User:             c.SSH.User,
			KeyPath:          c.SSH.KeyPath,
			BandwidthLimitKB: c.SSH.BandwidthLimitKB,
		}, c.SSH.Path)
	case "restic":
		return backendrestic.New(ctx, restic.Repo{
			Repository:   c.Restic.Repository,
			Password:     c.Restic.Password,
			PasswordFile: c.Restic.PasswordFile,
			CacheDir:     c.Restic.CacheDir,
		})
	case "":
		return nil, fmt.Errorf("no default_backend configured; pass --target or set one in the config file")
	}
	return nil, fmt.Errorf("unknown default_backend %q", c.DefaultBackend)
}

// FromTarget constructs a backend from a parsed target URI. Bandwidth
// limits and restic credentials come from the config when the target does
// not carry them.
func (c *Config) FromTarget(ctx context.Context, t target.Target) (backend.Backend, error) {
	switch t.Scheme {
	case target.SchemeDir:
		return local.New(t.DirPath)
	case target.SchemeRclone:
		provider := cloud.Provider(c.Cloud.Provider)
		if provider == "" {
			provider = cloud.GoogleDrive
		}
		return cloud.New(ctx, cloud.Config{
			Provider:         provider,
			Remote:           t.Remote,
			Path:             t.RemotePath,
			BandwidthLimitKB: c.Cloud.BandwidthLimitKB,
		})
	case target.SchemeSSH:
		return sshhost.New(ctx, rsync.Config{
			Host:             t.Host,
			Port:             t.Port,
			User:             t.User,
			KeyPath:          c.SSH.KeyPath,
			BandwidthLimitKB: c.SSH.BandwidthLimitKB,
		}, t.HostPath)
	case target.SchemeRestic:
		return backendrestic.New(ctx, restic.Repo{
			Repository:   t.Repository,
			Password:     c.Restic.Password,
			PasswordFile: c.Restic.PasswordFile,
			CacheDir:     c.Restic.CacheDir,
		})
	}
	return nil, fmt.Errorf("unsupported backend scheme %q", t.Scheme)
}
