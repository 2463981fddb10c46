package notify

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/opsdrift/ecswatch/internal/faults"
)

// PublishAPI is the subset of the SNS client used to publish alerts.
type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes alerts to an SNS topic, which fans out to the
// subscribed e-mail addresses.
type SNSNotifier struct {
	client PublishAPI
	log    *slog.Logger
}

// NewSNSNotifier creates an SNS-backed notifier.
func NewSNSNotifier(client PublishAPI, logger *slog.Logger) *SNSNotifier {
	return &SNSNotifier{client: client, log: logger}
}

// Send publishes the alert to the topic identified by destination.
func (n *SNSNotifier) Send(ctx context.Context, destination, subject, body string) error {
	n.log.Info("sending email notification", "topic", destination, "subject", subject)

	_, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(destination),
		Subject:  aws.String(subject),
		Message:  aws.String(body),
	})
	if err != nil {
		return faults.Wrap(faults.Notification, "sns.Publish", err)
	}
	return nil
}
