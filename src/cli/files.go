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

func newFilesCmd(stdout, stderr io.Writer) *cobra.Command {
	var output string
	var path string
	cmd := &cobra.Command{
		Use:   "files BACKUP_ID",
		Short: "List one directory level inside a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := resolveBackend(cmd)
			if err != nil {
				return err
			}
			entries, err := be.ListFiles(args[0], path)
			if err != nil {
				return err
			}
			switch output {
			case "json":
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			case "table", "":
				return renderFileTable(stdout, entries)
			default:
				return fmt.Errorf("unsupported --output: %s", output)
			}
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", "", "Directory inside the backup to list (default: root)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	return cmd
}

func renderFileTable(w io.Writer, entries []backend.FileEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tMODIFIED")
	for _, e := range entries {
		size := progress.FormatBytes(e.Size)
		if e.IsDir {
			size = "dir"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Path, size, e.Modified.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
