package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"snapvault/src/backend"
	"snapvault/src/util/progress"
)

func newListCmd(stdout, stderr io.Writer) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backups in the target backend, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := resolveBackend(cmd)
			if err != nil {
				return err
			}
			backups, err := be.ListBackups()
			if err != nil {
				return err
			}
			switch output {
			case "json":
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(backups)
			case "table", "":
				return renderBackupTable(stdout, backups)
			default:
				return fmt.Errorf("unsupported --output: %s", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	return cmd
}

func renderBackupTable(w io.Writer, backups []backend.Metadata) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tCREATED\tFILES\tSIZE")
	for _, m := range backups {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			m.ID, m.Name, m.BackupType,
			m.Timestamp.UTC().Format(time.RFC3339),
			m.FileCount, progress.FormatBytes(m.SizeBytes))
	}
	return tw.Flush()
}
