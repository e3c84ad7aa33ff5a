package consume

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/polybot/yolo-service/internal/app"
	"github.com/polybot/yolo-service/internal/logger"
	"github.com/polybot/yolo-service/internal/observability"
	"github.com/polybot/yolo-service/internal/prediction"
)

// Command creates the consume command. It runs the queue consumer alone,
// processing in this process or posting each message to --remote.
func Command(ctx *app.Context) *cobra.Command {
	var remote string

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Run the queue consumer without the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote == "" {
				remote = ctx.Settings.Queue.RemoteURL
			}
			return run(cmd.Context(), ctx, remote)
		},
	}

	cmd.Flags().StringVar(&remote, "remote", "", "Post messages to this /predict URL instead of processing them locally")
	return cmd
}

func run(parent context.Context, appCtx *app.Context, remote string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	var processor prediction.Processor
	if remote != "" {
		remoteProcessor, closeClient := app.NewRemoteProcessor(remote)
		defer closeClient()
		processor = remoteProcessor
		appCtx.Log("consume").Info("forwarding messages to remote instance", logger.String("url", remote))
	} else {
		pipeline, err := app.NewPipeline(ctx, appCtx.Settings, appCtx.Log("pipeline"), m)
		if err != nil {
			return err
		}
		defer pipeline.Close()
		processor = pipeline.Service
	}

	c, err := app.NewConsumer(ctx, appCtx.Settings.Queue, processor, appCtx.Log("consumer"), m)
	if err != nil {
		return err
	}
	return c.Run(ctx)
}
