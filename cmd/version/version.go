package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
)

// Command creates a new version command.
func Command(ctx *conf.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), ctx.Build.String())
			return err
		},
	}
}
