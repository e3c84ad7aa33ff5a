package mqtt

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/observability/metrics"
	"github.com/polybot/yolo-service/internal/prediction"
)

// fakeToken completes immediately unless pending is set.
type fakeToken struct {
	err     error
	pending bool
	done    chan struct{}
}

func newToken(err error, pending bool) *fakeToken {
	t := &fakeToken{err: err, pending: pending, done: make(chan struct{})}
	if !pending {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakePaho records publishes instead of talking to a broker.
type fakePaho struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	publishErr  error
	hangPublish bool
	messages    []published
	opts        *paho.ClientOptions
}

func (f *fakePaho) IsConnected() bool      { f.mu.Lock(); defer f.mu.Unlock(); return f.connected }
func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }
func (f *fakePaho) Connect() paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr == nil {
		f.connected = true
	}
	return newToken(f.connectErr, false)
}
func (f *fakePaho) Disconnect(uint) { f.mu.Lock(); f.connected = false; f.mu.Unlock() }
func (f *fakePaho) Publish(topic string, _ byte, retained bool, payload any) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hangPublish {
		return newToken(nil, true)
	}
	if f.publishErr != nil {
		return newToken(f.publishErr, false)
	}
	data, _ := payload.([]byte)
	f.messages = append(f.messages, published{topic: topic, retained: retained, payload: data})
	return newToken(nil, false)
}
func (f *fakePaho) Subscribe(string, byte, paho.MessageHandler) paho.Token {
	return newToken(nil, false)
}
func (f *fakePaho) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return newToken(nil, false)
}
func (f *fakePaho) Unsubscribe(...string) paho.Token        { return newToken(nil, false) }
func (f *fakePaho) AddRoute(string, paho.MessageHandler)    {}
func (f *fakePaho) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

func newTestClient(t *testing.T, fake *fakePaho, mutate func(*Config)) (*client, *metrics.MQTTMetrics) {
	t.Helper()
	m, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1883"
	cfg.ClientID = "yolo-test"
	cfg.Topic = "yolo/predictions"
	cfg.ReconnectCooldown = 0
	cfg.ConnectTimeout = time.Second
	cfg.PublishTimeout = 50 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := NewClient(cfg, m, nil)
	require.NoError(t, err)
	impl := c.(*client)
	impl.newClient = func(opts *paho.ClientOptions) paho.Client {
		fake.opts = opts
		return fake
	}
	return impl, m
}

func TestNewClientRequiresBroker(t *testing.T) {
	t.Parallel()
	_, err := NewClient(DefaultConfig(), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{}
	settings.Main.Name = "yolo-service"
	settings.MQTT.Broker = "tcp://broker:1883"
	settings.MQTT.Topic = "events"
	settings.MQTT.Retain = true

	cfg := ConfigFromSettings(settings)
	assert.Equal(t, "yolo-service", cfg.ClientID)
	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, "events", cfg.Topic)
	assert.True(t, cfg.Retain)
	assert.Equal(t, 10*time.Second, cfg.PublishTimeout)
}

func TestConnectPublishDisconnect(t *testing.T) {
	t.Parallel()
	fake := &fakePaho{}
	c, m := newTestClient(t, fake, func(cfg *Config) { cfg.Retain = true })
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())
	assert.InDelta(t, 1, testutil.ToFloat64(m.ConnectionStatus), 0)

	require.NoError(t, c.Publish(ctx, "yolo/predictions", []byte(`{"a":1}`)))
	require.Len(t, fake.messages, 1)
	assert.Equal(t, "yolo/predictions", fake.messages[0].topic)
	assert.True(t, fake.messages[0].retained)

	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesDelivered), 0)

	c.Disconnect()
	assert.False(t, c.IsConnected())
	assert.InDelta(t, 0, testutil.ToFloat64(m.ConnectionStatus), 0)
}

func TestConnectOptions(t *testing.T) {
	t.Parallel()
	fake := &fakePaho{}
	c, _ := newTestClient(t, fake, func(cfg *Config) {
		cfg.Username = "user"
		cfg.Password = "secret"
	})
	require.NoError(t, c.Connect(context.Background()))

	require.NotNil(t, fake.opts)
	assert.Equal(t, "yolo-test", fake.opts.ClientID)
	assert.Equal(t, "user", fake.opts.Username)
	assert.True(t, fake.opts.AutoReconnect)
	require.Len(t, fake.opts.Servers, 1)
	assert.Equal(t, "127.0.0.1:1883", fake.opts.Servers[0].Host)
}

func TestConnectErrors(t *testing.T) {
	t.Parallel()

	t.Run("broker refuses", func(t *testing.T) {
		t.Parallel()
		c, _ := newTestClient(t, &fakePaho{connectErr: errors.NewStd("not authorized")}, nil)
		err := c.Connect(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not authorized")
		assert.False(t, c.IsConnected())
	})

	t.Run("cooldown", func(t *testing.T) {
		t.Parallel()
		c, _ := newTestClient(t, &fakePaho{}, func(cfg *Config) { cfg.ReconnectCooldown = time.Hour })
		require.NoError(t, c.Connect(context.Background()))
		err := c.Connect(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too recent")
	})

	t.Run("invalid url", func(t *testing.T) {
		t.Parallel()
		c, _ := newTestClient(t, &fakePaho{}, func(cfg *Config) { cfg.Broker = "://bad" })
		assert.Error(t, c.Connect(context.Background()))
	})
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("not connected", func(t *testing.T) {
		t.Parallel()
		c, m := newTestClient(t, &fakePaho{}, nil)
		err := c.Publish(ctx, "t", []byte("x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not connected")
		assert.InDelta(t, 1, testutil.ToFloat64(m.Errors), 0)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		fake := &fakePaho{hangPublish: true}
		c, _ := newTestClient(t, fake, nil)
		require.NoError(t, c.Connect(ctx))
		err := c.Publish(ctx, "t", []byte("x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("broker error", func(t *testing.T) {
		t.Parallel()
		fake := &fakePaho{publishErr: errors.NewStd("quota exceeded")}
		c, _ := newTestClient(t, fake, nil)
		require.NoError(t, c.Connect(ctx))
		assert.ErrorContains(t, c.Publish(ctx, "t", []byte("x")), "quota exceeded")
	})
}

func TestPublisherPublishResult(t *testing.T) {
	t.Parallel()
	fake := &fakePaho{}
	c, _ := newTestClient(t, fake, nil)
	require.NoError(t, c.Connect(context.Background()))

	p := NewPublisher(c, "yolo/predictions", "yolo-service")
	p.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }

	result := &prediction.Result{
		UID:            "u1",
		DetectionCount: 1,
		Labels:         []string{"cat"},
		PredictedKey:   "predicted/file_71_predicted.jpg",
	}
	require.NoError(t, p.PublishResult(context.Background(), result))

	require.Len(t, fake.messages, 1)
	var event map[string]any
	require.NoError(t, json.Unmarshal(fake.messages[0].payload, &event))
	assert.Equal(t, "u1", event["prediction_uid"])
	assert.Equal(t, "predicted/file_71_predicted.jpg", event["predicted_s3_key"])
	assert.Equal(t, "yolo-service", event["service"])
	assert.Equal(t, "2026-10-19T12:00:00Z", event["published_at"])
}

func TestPublisherWrapsErrors(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, &fakePaho{}, nil)
	p := NewPublisher(c, "yolo/predictions", "yolo-service")

	err := p.PublishResult(context.Background(), &prediction.Result{UID: "u1"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
}

func isMosquittoTestServerAvailable() bool {
	conn, err := net.DialTimeout("tcp", "test.mosquitto.org:1883", 5*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func TestPublicBroker(t *testing.T) {
	if testing.Short() || !isMosquittoTestServerAvailable() {
		t.Skip("Skipping MQTT broker test: test.mosquitto.org is not available")
	}

	cfg := DefaultConfig()
	cfg.Broker = "tcp://test.mosquitto.org:1883"
	cfg.ClientID = "yolo-service-test-" + strings.ReplaceAll(time.Now().Format("150405.000"), ".", "")
	c, err := NewClient(cfg, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()
	require.NoError(t, c.Publish(ctx, "yolo-service/test", []byte("hello")))
}
