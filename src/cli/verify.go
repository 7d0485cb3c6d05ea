package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newVerifyCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify BACKUP_ID",
		Short: "Check a backup's structure (metadata and data present)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := resolveBackend(cmd)
			if err != nil {
				return err
			}
			ok, err := be.VerifyBackup(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("backup %s failed verification", args[0])
			}
			fmt.Fprintf(stdout, "Backup %s verified\n", args[0])
			return nil
		},
	}
	return cmd
}
