package email

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// FailureNotifier is told about every entry that reaches the failed status.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, entry QueueEntry) error
}

// SNSAPI is the subset of the SNS client used for alerts.
type SNSAPI interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

// SNSFailureNotifier publishes terminal failures to an SNS topic.
type SNSFailureNotifier struct {
	client   SNSAPI
	topicARN string
}

func NewSNSFailureNotifier(client SNSAPI, topicARN string) *SNSFailureNotifier {
	return &SNSFailureNotifier{client: client, topicARN: topicARN}
}

type failureAlert struct {
	EntryID      string    `json:"entryId"`
	TemplateName string    `json:"templateName"`
	Recipient    string    `json:"recipient"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"lastError"`
	FailedAt     time.Time `json:"failedAt"`
}

func (n *SNSFailureNotifier) NotifyFailure(ctx context.Context, entry QueueEntry) error {
	payload, err := json.Marshal(failureAlert{
		EntryID:      entry.ID,
		TemplateName: entry.TemplateName,
		Recipient:    entry.Recipient,
		Attempts:     entry.Attempts,
		LastError:    entry.LastError,
		FailedAt:     entry.UpdatedAt,
	})
	if err != nil {
		return err
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String("Mail delivery failed: " + entry.TemplateName),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"template": {DataType: aws.String("String"), StringValue: aws.String(entry.TemplateName)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish failure alert for %s: %w", entry.ID, err)
	}
	return nil
}
