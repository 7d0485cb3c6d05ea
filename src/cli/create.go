package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"snapvault/src/backend"
	"snapvault/src/util/progress"
)

func newCreateCmd(stdout, stderr io.Writer) *cobra.Command {
	var name string
	var typ string
	var compression string
	var encrypt bool
	cmd := &cobra.Command{
		Use:   "create SOURCE...",
		Short: "Create a backup from one or more source paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			sources := make([]string, 0, len(args))
			for _, src := range args {
				abs, err := filepath.Abs(src)
				if err != nil {
					return err
				}
				sources = append(sources, abs)
			}
			be, err := resolveBackend(cmd)
			if err != nil {
				return err
			}
			if opts := getSafetyOptions(cmd); opts.DryRun {
				fmt.Fprintf(stdout, "Would back up %d source(s) to %s\n", len(sources), be.Name())
				return nil
			}
			renderer := progress.NewRenderer(stderr)
			meta, err := be.CreateBackup(sources, name,
				backend.BackupType(typ), backend.Compression(compression), encrypt,
				renderer.Sink())
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Created %s: %d files, %s\n",
				meta.ID, meta.FileCount, progress.FormatBytes(meta.SizeBytes))
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Backup name")
	cmd.Flags().StringVar(&typ, "type", string(backend.TypeCustom), "Backup type: system|home|config|custom")
	cmd.Flags().StringVar(&compression, "compression", string(backend.CompressionNone), "Compression label recorded in metadata: none|gzip|zstd")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "Mark the backup as encrypted in metadata")
	return cmd
}
