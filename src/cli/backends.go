package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"snapvault/src/backend"
	"snapvault/src/config"
)

func newBackendsCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backends",
		Short: "Show configured backends and their availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "BACKEND\tNAME\tSTATUS")
			for _, kind := range []string{"local", "cloud", "ssh", "restic"} {
				probe := config.Config{
					DefaultBackend: kind,
					Local:          cfg.Local,
					Cloud:          cfg.Cloud,
					SSH:            cfg.SSH,
					Restic:         cfg.Restic,
				}
				be, err := probe.Backend(ctx)
				if err != nil {
					fmt.Fprintf(tw, "%s\t-\tnot configured\n", kind)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", kind, be.Name(), availability(be))
			}
			return tw.Flush()
		},
	}
	return cmd
}

func availability(be backend.Backend) string {
	if be.IsAvailable() {
		return "available"
	}
	return "unavailable"
}
