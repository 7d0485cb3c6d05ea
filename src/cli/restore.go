package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"snapvault/src/safety"
	"snapvault/src/util/progress"
)

func newRestoreCmd(stdout, stderr io.Writer) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "restore BACKUP_ID DESTINATION",
		Short: "Restore a backup into a destination directory",
		Long: "Restore a backup into a destination directory, overwriting " +
			"existing files. With --file only entries matching the given " +
			"relative paths (or their parents and children) are restored.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			dest, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}
			be, err := resolveBackend(cmd)
			if err != nil {
				return err
			}
			opts := getSafetyOptions(cmd)
			ok, err := safety.Confirm(opts, os.Stdin, stderr,
				fmt.Sprintf("Restore %s into %s, overwriting existing files?", id, dest))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(stdout, "Restore cancelled")
				return nil
			}
			renderer := progress.NewRenderer(stderr)
			if err := be.RestoreBackup(id, dest, files, renderer.Sink()); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Restored %s to %s\n", id, dest)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Restore only entries matching this relative path (repeatable)")
	return cmd
}
