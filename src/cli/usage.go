package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"snapvault/src/util/progress"
)

func newUsageCmd(stdout, stderr io.Writer) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show storage usage of the target backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := resolveBackend(cmd)
			if err != nil {
				return err
			}
			usage, err := be.GetStorageUsage()
			if err != nil {
				return err
			}
			if output == "json" {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(usage)
			}
			fmt.Fprintf(stdout, "Backend:   %s\n", be.Name())
			fmt.Fprintf(stdout, "Backups:   %d\n", usage.BackupCount)
			fmt.Fprintf(stdout, "Used:      %s\n", progress.FormatBytes(usage.UsedBytes))
			fmt.Fprintf(stdout, "Available: %s\n", progress.FormatBytes(usage.AvailableBytes))
			fmt.Fprintf(stdout, "Total:     %s\n", progress.FormatBytes(usage.TotalBytes))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text|json")
	return cmd
}
