package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/polybot/yolo-service/internal/api"
	"github.com/polybot/yolo-service/internal/app"
	"github.com/polybot/yolo-service/internal/logger"
	"github.com/polybot/yolo-service/internal/observability"
)

// Command creates the serve command, running the HTTP API and, when the
// queue is enabled, the queue consumer in the same process.
func Command(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the prediction HTTP API and queue consumer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), ctx)
		},
	}
}

func run(parent context.Context, appCtx *app.Context) error {
	settings := appCtx.Settings
	log := appCtx.Log("serve")

	if !settings.WebServer.Enabled && !settings.Queue.Enabled {
		return fmt.Errorf("nothing to serve: webserver and queue are both disabled")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	pipeline, err := app.NewPipeline(ctx, settings, appCtx.Log("pipeline"), m)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	server, err := api.New(settings,
		api.WithLogger(appCtx.Log("api")),
		api.WithProcessor(pipeline.Service),
		api.WithDataStore(pipeline.Store),
		api.WithMetrics(m))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if settings.WebServer.Enabled {
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			return server.Shutdown(context.Background())
		})
	}

	if settings.Queue.Enabled {
		c, err := app.NewConsumer(ctx, settings.Queue, pipeline.Service, appCtx.Log("consumer"), m)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		if err := c.Start(gctx); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return c.Stop(server.ShutdownTimeout())
		})
	}

	log.Info("service started",
		logger.Bool("http", settings.WebServer.Enabled),
		logger.Bool("queue", settings.Queue.Enabled))

	err = g.Wait()
	log.Info("service stopped")
	return err
}
