package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polybot/yolo-service/internal/app"
	"github.com/polybot/yolo-service/internal/conf"
)

// Command creates the config command, printing the effective settings with
// secrets masked.
func Command(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := conf.DumpYAML(ctx.Settings)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
