// Package queue wraps the SQS operations used by the consumer.
package queue

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/polybot/yolo-service/internal/awsclient"
	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/logger"
)

const componentQueue = "queue"

// maxBatch and maxWait are SQS service limits for ReceiveMessage.
const (
	maxBatch = 10
	maxWait  = 20 * time.Second
)

// Message is one received queue message.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Queue receives and acknowledges messages.
type Queue interface {
	// Receive long polls for up to limit messages. An empty slice means the
	// wait elapsed without messages.
	Receive(ctx context.Context, limit int, wait time.Duration) ([]Message, error)

	// Delete acknowledges a message so it is not delivered again.
	Delete(ctx context.Context, receiptHandle string) error
}

// SQSAPI is the subset of the SQS client used by SQSQueue.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue implements Queue on one SQS queue URL.
type SQSQueue struct {
	client SQSAPI
	url    string
	log    logger.Logger
}

// NewSQSQueue wraps an existing client.
func NewSQSQueue(client SQSAPI, url string, log logger.Logger) *SQSQueue {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &SQSQueue{client: client, url: url, log: log}
}

// New builds an SQS client from queue settings.
func New(ctx context.Context, settings conf.QueueSettings, log logger.Logger) (*SQSQueue, error) {
	if settings.URL == "" {
		return nil, errors.Newf("queue url is not configured").
			Component(componentQueue).
			Category(errors.CategoryConfiguration).
			Build()
	}
	cfg, err := awsclient.LoadConfig(ctx, settings.Region)
	if err != nil {
		return nil, err
	}
	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		o.BaseEndpoint = awsclient.Endpoint(settings.Endpoint)
	})
	if log != nil {
		log = log.Module(componentQueue)
	}
	return NewSQSQueue(client, settings.URL, log), nil
}

// Receive clamps limit and wait to the service limits.
func (q *SQSQueue) Receive(ctx context.Context, limit int, wait time.Duration) ([]Message, error) {
	limit = min(max(limit, 1), maxBatch)
	wait = min(max(wait, 0), maxWait)

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: int32(limit),
		WaitTimeSeconds:     int32(wait / time.Second),
	})
	if err != nil {
		return nil, queueError(err, "receive")
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return messages, nil
}

// Delete removes a message by receipt handle.
func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return queueError(err, "delete")
	}
	return nil
}

func queueError(err error, operation string) error {
	b := errors.New(err).
		Component(componentQueue).
		Category(errors.CategoryQueue).
		Context("operation", operation)
	if code := awsclient.ErrorCode(err); code != "" {
		b = b.Context("aws_error_code", code)
	}
	return b.Build()
}
