package queue

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/errors"
)

type mockSQS struct {
	mock.Mock
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sqs.ReceiveMessageOutput)
	return out, args.Error(1)
}

func (m *mockSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sqs.DeleteMessageOutput)
	return out, args.Error(1)
}

const testQueueURL = "https://sqs.eu-north-1.amazonaws.com/123456789012/images"

func TestReceive(t *testing.T) {
	t.Parallel()

	client := &mockSQS{}
	client.On("ReceiveMessage", mock.Anything, mock.MatchedBy(func(in *sqs.ReceiveMessageInput) bool {
		return aws.ToString(in.QueueUrl) == testQueueURL && in.MaxNumberOfMessages == 5 && in.WaitTimeSeconds == 10
	})).Return(&sqs.ReceiveMessageOutput{Messages: []types.Message{
		{MessageId: aws.String("m1"), Body: aws.String(`{"image_name":"a.jpg"}`), ReceiptHandle: aws.String("r1")},
		{MessageId: aws.String("m2"), Body: aws.String(`{}`), ReceiptHandle: aws.String("r2")},
	}}, nil)

	q := NewSQSQueue(client, testQueueURL, nil)
	msgs, err := q.Receive(context.Background(), 5, 10*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, Message{ID: "m1", Body: `{"image_name":"a.jpg"}`, ReceiptHandle: "r1"}, msgs[0])
	client.AssertExpectations(t)
}

func TestReceiveClampsToServiceLimits(t *testing.T) {
	t.Parallel()

	client := &mockSQS{}
	client.On("ReceiveMessage", mock.Anything, mock.MatchedBy(func(in *sqs.ReceiveMessageInput) bool {
		return in.MaxNumberOfMessages == 10 && in.WaitTimeSeconds == 20
	})).Return(&sqs.ReceiveMessageOutput{}, nil)

	q := NewSQSQueue(client, testQueueURL, nil)
	msgs, err := q.Receive(context.Background(), 50, time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
	client.AssertExpectations(t)
}

func TestReceiveErrorIsQueueCategory(t *testing.T) {
	t.Parallel()

	client := &mockSQS{}
	client.On("ReceiveMessage", mock.Anything, mock.Anything).
		Return(nil, &types.QueueDoesNotExist{Message: aws.String("gone")})

	q := NewSQSQueue(client, testQueueURL, nil)
	_, err := q.Receive(context.Background(), 5, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryQueue))

	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "QueueDoesNotExist", ee.GetContext()["aws_error_code"])
}

func TestDelete(t *testing.T) {
	t.Parallel()

	client := &mockSQS{}
	client.On("DeleteMessage", mock.Anything, mock.MatchedBy(func(in *sqs.DeleteMessageInput) bool {
		return aws.ToString(in.ReceiptHandle) == "r1" && aws.ToString(in.QueueUrl) == testQueueURL
	})).Return(&sqs.DeleteMessageOutput{}, nil).Once()
	client.On("DeleteMessage", mock.Anything, mock.Anything).
		Return(nil, errors.NewStd("receipt handle expired"))

	q := NewSQSQueue(client, testQueueURL, nil)
	require.NoError(t, q.Delete(context.Background(), "r1"))
	assert.True(t, errors.IsCategory(q.Delete(context.Background(), "r2"), errors.CategoryQueue))
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), conf.QueueSettings{Region: "eu-north-1"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
