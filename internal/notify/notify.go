// Package notify dispatches alerts about disconnected ECS agents. SNS is
// the primary channel; a Slack webhook channel is available as an
// alternative. Both implement the same Notifier contract.
package notify

import "context"

// Channel names accepted in configuration.
const (
	ChannelSNS   = "sns"
	ChannelSlack = "slack"
)

// Notifier sends one alert to a destination. For SNS the destination is a
// topic ARN; for Slack it is a webhook URL.
type Notifier interface {
	Send(ctx context.Context, destination, subject, body string) error
}
