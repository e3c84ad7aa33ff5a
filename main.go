package main

import (
	"fmt"
	"os"

	"github.com/polybot/yolo-service/cmd"
	"github.com/polybot/yolo-service/internal/app"
)

func main() {
	ctx := &app.Context{}
	rootCmd := cmd.RootCommand(ctx)

	if err := rootCmd.Execute(); err != nil {
		// PersistentPostRun is skipped when a command fails
		ctx.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
