package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"snapvault/src/safety"
)

func newDeleteCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete BACKUP_ID",
		Short: "Delete a backup's data and metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			be, err := resolveBackend(cmd)
			if err != nil {
				return err
			}
			opts := getSafetyOptions(cmd)
			ok, err := safety.Confirm(opts, os.Stdin, stderr,
				fmt.Sprintf("Permanently delete backup %s from %s?", id, be.Name()))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(stdout, "Delete cancelled")
				return nil
			}
			if err := be.DeleteBackup(id); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Deleted %s\n", id)
			return nil
		},
	}
	return cmd
}
