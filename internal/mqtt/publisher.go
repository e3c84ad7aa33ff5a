package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/polybot/yolo-service/internal/buildinfo"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/prediction"
)

// Event is the payload published for every successful prediction.
type Event struct {
	*prediction.Result
	Service     string    `json:"service"`
	Version     string    `json:"version"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher turns prediction results into MQTT events. It implements
// prediction.Notifier.
type Publisher struct {
	client  Client
	topic   string
	service string
	now     func() time.Time
}

// NewPublisher creates a publisher sending to topic.
func NewPublisher(client Client, topic, service string) *Publisher {
	return &Publisher{client: client, topic: topic, service: service, now: time.Now}
}

// PublishResult publishes result as JSON.
func (p *Publisher) PublishResult(ctx context.Context, result *prediction.Result) error {
	payload, err := json.Marshal(Event{
		Result:      result,
		Service:     p.service,
		Version:     buildinfo.Version(),
		PublishedAt: p.now().UTC(),
	})
	if err != nil {
		return errors.New(err).
			Component(componentMQTT).
			Category(errors.CategoryValidation).
			Build()
	}
	if err := p.client.Publish(ctx, p.topic, payload); err != nil {
		return errors.New(err).
			Component(componentMQTT).
			Category(errors.CategoryMQTTPublish).
			Context("topic", p.topic).
			Context("uid", result.UID).
			Build()
	}
	return nil
}
