package app

import (
	"context"
	"fmt"
	"time"

	"github.com/polybot/yolo-service/internal/buildinfo"
	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/consumer"
	"github.com/polybot/yolo-service/internal/datastore"
	"github.com/polybot/yolo-service/internal/httpclient"
	"github.com/polybot/yolo-service/internal/inference"
	"github.com/polybot/yolo-service/internal/logger"
	"github.com/polybot/yolo-service/internal/mqtt"
	"github.com/polybot/yolo-service/internal/objectstore"
	"github.com/polybot/yolo-service/internal/observability"
	"github.com/polybot/yolo-service/internal/prediction"
	"github.com/polybot/yolo-service/internal/queue"
)

// Pipeline owns the components behind an in-process prediction run.
type Pipeline struct {
	Store   datastore.Interface
	Objects objectstore.Store
	Engine  inference.Engine
	MQTT    mqtt.Client // nil unless mqtt.enabled
	Service *prediction.Service

	log logger.Logger
}

// NewPipeline opens the datastore, creates the object store and inference
// engine, and connects to the MQTT broker when enabled. A broker that cannot
// be reached is logged and retried by the client; it does not fail startup.
func NewPipeline(ctx context.Context, settings *conf.Settings, log logger.Logger, m *observability.Metrics) (*Pipeline, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	p := &Pipeline{log: log}

	store, err := datastore.New(settings, log, m.Datastore)
	if err != nil {
		return nil, err
	}
	if err := store.Open(); err != nil {
		return nil, err
	}
	p.Store = store

	p.Objects, err = objectstore.New(settings, log)
	if err != nil {
		p.Close()
		return nil, err
	}

	p.Engine, err = inference.New(&settings.Inference, log)
	if err != nil {
		p.Close()
		return nil, err
	}

	opts := []prediction.Option{
		prediction.WithLogger(log),
		prediction.WithMetrics(m.Prediction),
		prediction.WithResourceGuard(prediction.NewDiskGuard(settings.Prediction.MaxDiskUsage)),
	}

	if settings.MQTT.Enabled {
		client, err := mqtt.NewClient(mqtt.ConfigFromSettings(settings), m.MQTT, log)
		if err != nil {
			p.Close()
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			log.Warn("mqtt broker not reachable at startup", logger.Error(err))
		}
		p.MQTT = client
		opts = append(opts, prediction.WithNotifier(mqtt.NewPublisher(client, settings.MQTT.Topic, settings.Main.Name)))
	}

	p.Service = prediction.NewService(settings.Prediction, p.Store, p.Objects, p.Engine, opts...)
	return p, nil
}

// Close releases the engine, the datastore and the broker connection.
func (p *Pipeline) Close() {
	if p.Engine != nil {
		if err := p.Engine.Close(); err != nil {
			p.log.Warn("failed to close inference engine", logger.Error(err))
		}
	}
	if p.Store != nil {
		if err := p.Store.Close(); err != nil {
			p.log.Warn("failed to close datastore", logger.Error(err))
		}
	}
	if p.MQTT != nil {
		p.MQTT.Disconnect()
	}
}

// NewConsumer connects to the configured queue and returns a consumer that
// hands every message to processor.
func NewConsumer(ctx context.Context, settings conf.QueueSettings, processor prediction.Processor, log logger.Logger, m *observability.Metrics) (*consumer.Consumer, error) {
	q, err := queue.New(ctx, settings, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue client: %w", err)
	}
	return consumer.New(q, processor, settings,
		consumer.WithLogger(log),
		consumer.WithMetrics(m.Consumer)), nil
}

// remoteTimeout covers a full remote run including inference.
const remoteTimeout = 2 * time.Minute

// NewRemoteProcessor posts requests to another instance's /predict.
func NewRemoteProcessor(url string) (*prediction.RemoteProcessor, func()) {
	client := httpclient.New(&httpclient.Config{
		DefaultTimeout: remoteTimeout,
		UserAgent:      "yolo-consumer/" + buildinfo.Version(),
	})
	return prediction.NewRemoteProcessor(client, url), client.Close
}
