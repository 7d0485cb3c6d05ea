package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newTestCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test connectivity to the target backend and create its backup root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := resolveBackend(cmd)
			if err != nil {
				return err
			}
			if err := be.TestConnection(); err != nil {
				return fmt.Errorf("%s: %w", be.Name(), err)
			}
			fmt.Fprintf(stdout, "%s: connection OK\n", be.Name())
			return nil
		},
	}
	return cmd
}
