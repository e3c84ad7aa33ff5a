package cmd

import (
	"github.com/spf13/cobra"

	"github.com/polybot/yolo-service/cmd/config"
	"github.com/polybot/yolo-service/cmd/consume"
	"github.com/polybot/yolo-service/cmd/predict"
	"github.com/polybot/yolo-service/cmd/serve"
	"github.com/polybot/yolo-service/internal/app"
	"github.com/polybot/yolo-service/internal/buildinfo"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *app.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "yolo",
		Short:         "YOLO object detection service",
		Version:       buildinfo.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, ctx)

	rootCmd.AddCommand(
		serve.Command(ctx),
		consume.Command(ctx),
		predict.Command(ctx),
		config.Command(ctx),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return ctx.Init()
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		ctx.Close()
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, ctx *app.Context) {
	rootCmd.PersistentFlags().BoolVarP(&ctx.Debug, "debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigFile, "config", "c", "", "Path to config file")
}
