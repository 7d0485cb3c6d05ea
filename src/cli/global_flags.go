package cli

import (
	"github.com/spf13/cobra"

	"snapvault/src/backend"
	"snapvault/src/config"
	"snapvault/src/safety"
	"snapvault/src/target"
)

// addGlobalFlags adds the persistent flags shared by every command.
func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("target", "", "Backend target URI (e.g., dir:/path, rclone:remote:path, ssh://user@host/path, restic:/repo)")
	cmd.PersistentFlags().String("config", "", "Config file path (default: per-user config directory)")
	cmd.PersistentFlags().BoolP("yes", "y", false, "Assume 'yes' to prompts and run non-interactively")
	cmd.PersistentFlags().Bool("dry-run", false, "Show planned actions without making changes")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

// getSafetyOptions reads the global flags into a safety.Options struct.
func getSafetyOptions(cmd *cobra.Command) safety.Options {
	yes, _ := cmd.Root().PersistentFlags().GetBool("yes")
	dry, _ := cmd.Root().PersistentFlags().GetBool("dry-run")
	return safety.Options{Yes: yes, DryRun: dry}
}

// loadConfig reads the config file named by --config, falling back to the
// per-user default location.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return config.Load(path)
}

// resolveBackend constructs the backend for a command invocation: the
// --target URI when given, the configured default backend otherwise.
func resolveBackend(cmd *cobra.Command) (backend.Backend, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	tgtStr, _ := cmd.Root().PersistentFlags().GetString("target")
	if tgtStr != "" {
		tgt, err := target.Parse(tgtStr)
		if err != nil {
			return nil, err
		}
		return cfg.FromTarget(ctx, tgt)
	}
	return cfg.Backend(ctx)
}
