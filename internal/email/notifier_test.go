package email

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockSNSService struct {
	PublishFunc func(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, input)
}

func TestSNSFailureNotifier_Publishes(t *testing.T) {
	var captured *sns.PublishInput
	client := &MockSNSService{PublishFunc: func(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error) {
		captured = input
		return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
	}}
	failedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	notifier := NewSNSFailureNotifier(client, "arn:aws:sns:us-east-1:123456789012:mail-alerts")
	err := notifier.NotifyFailure(context.Background(), QueueEntry{
		ID:           "entry-001",
		TemplateName: "welcome",
		Recipient:    "ana@example.com",
		Attempts:     3,
		LastError:    "connection refused",
		UpdatedAt:    failedAt,
	})
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:mail-alerts", aws.ToString(captured.TopicArn))
	assert.Equal(t, "Mail delivery failed: welcome", aws.ToString(captured.Subject))
	assert.Equal(t, "welcome", aws.ToString(captured.MessageAttributes["template"].StringValue))

	var alert map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(captured.Message)), &alert))
	assert.Equal(t, "entry-001", alert["entryId"])
	assert.Equal(t, "ana@example.com", alert["recipient"])
	assert.Equal(t, float64(3), alert["attempts"])
	assert.Equal(t, "connection refused", alert["lastError"])
}

func TestSNSFailureNotifier_PublishError(t *testing.T) {
	client := &MockSNSService{PublishFunc: func(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error) {
		return nil, errors.New("AuthorizationError")
	}}

	err := NewSNSFailureNotifier(client, "arn").NotifyFailure(context.Background(), QueueEntry{ID: "entry-009"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry-009")
}
