package email

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAPI is the subset of the SES client used for delivery.
type SESAPI interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

// SESTransport delivers through Amazon SES.
type SESTransport struct {
	client           SESAPI
	configurationSet string
}

func NewSESTransport(client SESAPI, configurationSet string) *SESTransport {
	return &SESTransport{client: client, configurationSet: configurationSet}
}

func (t *SESTransport) Name() string { return "ses" }

func (t *SESTransport) Deliver(ctx context.Context, msg Message) error {
	source := msg.From
	if msg.FromName != "" {
		source = (&mail.Address{Name: msg.FromName, Address: msg.From}).String()
	}

	body := &types.Body{}
	if msg.HTML {
		body.Html = &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")}
	} else {
		body.Text = &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(source),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body:    body,
		},
	}
	if t.configurationSet != "" {
		input.ConfigurationSetName = aws.String(t.configurationSet)
	}

	if _, err := t.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses send to %s: %w", msg.To, err)
	}
	return nil
}
