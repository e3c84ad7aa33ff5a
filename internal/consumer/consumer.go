// Package consumer drains the prediction request queue. Each message body is
// a prediction request; a message is deleted only after its prediction
// succeeded, so every failure is redelivered by the queue.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/logger"
	"github.com/polybot/yolo-service/internal/observability/metrics"
	"github.com/polybot/yolo-service/internal/prediction"
	"github.com/polybot/yolo-service/internal/queue"
)

const (
	componentConsumer = "consumer"

	defaultMaxMessages  = 5
	defaultWaitTime     = 10 * time.Second
	defaultEmptyBackoff = 1 * time.Second
	defaultErrorBackoff = 5 * time.Second
)

// ErrAlreadyRunning is returned by Start on a running consumer.
var ErrAlreadyRunning = errors.NewStd("consumer is already running")

// Consumer polls a queue and hands each message to a Processor.
type Consumer struct {
	queue     queue.Queue
	processor prediction.Processor
	settings  conf.QueueSettings
	log       logger.Logger
	metrics   *metrics.ConsumerMetrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option customises a Consumer.
type Option func(*Consumer)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Consumer) {
		if log != nil {
			c.log = log.Module(componentConsumer)
		}
	}
}

// WithMetrics records message outcomes and poll errors.
func WithMetrics(m *metrics.ConsumerMetrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

// New creates a consumer. Zero settings fall back to a batch of 5, a 10s
// long poll, 1s backoff after an empty poll and 5s after a transport error.
func New(q queue.Queue, p prediction.Processor, settings conf.QueueSettings, opts ...Option) *Consumer {
	if settings.MaxMessages <= 0 {
		settings.MaxMessages = defaultMaxMessages
	}
	if settings.WaitTime <= 0 {
		settings.WaitTime = defaultWaitTime
	}
	if settings.EmptyBackoff <= 0 {
		settings.EmptyBackoff = defaultEmptyBackoff
	}
	if settings.ErrorBackoff <= 0 {
		settings.ErrorBackoff = defaultErrorBackoff
	}
	settings.Concurrency = max(settings.Concurrency, 1)

	c := &Consumer{
		queue:     q,
		processor: p,
		settings:  settings,
		log:       logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run polls until ctx is cancelled. A batch already received when ctx is
// cancelled is finished on a context detached from the cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("consumer started",
		logger.Int("max_messages", c.settings.MaxMessages),
		logger.Duration("wait_time", c.settings.WaitTime),
		logger.Int("concurrency", c.settings.Concurrency))
	defer c.log.Info("consumer stopped")

	for ctx.Err() == nil {
		messages, err := c.queue.Receive(ctx, c.settings.MaxMessages, c.settings.WaitTime)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.pollError("receive failed", err)
			sleep(ctx, c.settings.ErrorBackoff)
			continue
		}
		if c.metrics != nil {
			c.metrics.ObserveBatch(len(messages))
		}
		if len(messages) == 0 {
			sleep(ctx, c.settings.EmptyBackoff)
			continue
		}

		if deleteFailed := c.processBatch(context.WithoutCancel(ctx), messages); deleteFailed {
			sleep(ctx, c.settings.ErrorBackoff)
		}
	}
	return nil
}

// Start runs the loop in a goroutine until Stop is called or ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		_ = c.Run(runCtx)
	}(c.done)
	return nil
}

// Stop cancels polling and waits up to timeout for the in-flight batch.
func (c *Consumer) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.cancel()
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for consumer to finish after %v", timeout)
	}
}

// processBatch handles the messages in order, concurrently up to the
// configured limit. It reports whether any delete failed.
func (c *Consumer) processBatch(ctx context.Context, messages []queue.Message) bool {
	var (
		mu           sync.Mutex
		deleteFailed bool
	)

	var g errgroup.Group
	g.SetLimit(c.settings.Concurrency)
	for _, msg := range messages {
		g.Go(func() error {
			if err := c.handle(ctx, msg); err != nil {
				mu.Lock()
				deleteFailed = true
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return deleteFailed
}

// handle processes one message. The returned error is a failed delete; a
// failed prediction only leaves the message for redelivery.
func (c *Consumer) handle(ctx context.Context, msg queue.Message) error {
	if c.metrics != nil {
		c.metrics.MessageStarted()
		defer c.metrics.MessageDone()
	}
	log := c.log.With(logger.String("message_id", msg.ID))

	var req prediction.Request
	if err := json.Unmarshal([]byte(msg.Body), &req); err != nil {
		log.Warn("malformed message left for redelivery", logger.Error(err))
		c.record(metrics.ResultMalformed)
		return nil
	}

	result, err := c.processor.Process(logger.WithTraceID(ctx, msg.ID), req)
	if err != nil {
		if prediction.IsValidation(err) {
			log.Warn("invalid request left for redelivery", logger.Error(err))
			c.record(metrics.ResultMalformed)
		} else {
			log.Error("prediction failed, message left for redelivery", logger.Error(err))
			c.record(metrics.ResultFailed)
		}
		return nil
	}

	if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		c.pollError("delete failed", err, logger.String("message_id", msg.ID), logger.String("uid", result.UID))
		c.record(metrics.ResultFailed)
		return err
	}

	log.Info("message processed",
		logger.String("uid", result.UID),
		logger.Int("detections", result.DetectionCount))
	c.record(metrics.ResultProcessed)
	return nil
}

func (c *Consumer) record(result string) {
	if c.metrics != nil {
		c.metrics.RecordMessage(result)
	}
}

func (c *Consumer) pollError(msg string, err error, fields ...logger.Field) {
	c.log.Error(msg, append(fields, logger.Error(err))...)
	if c.metrics != nil {
		c.metrics.RecordPollError()
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
