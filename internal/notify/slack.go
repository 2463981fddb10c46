package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/opsdrift/ecswatch/internal/faults"
)

// SlackNotifier sends alerts to a Slack incoming webhook.
type SlackNotifier struct {
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Blocks      []SlackBlock      `json:"blocks,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackBlock represents a Slack block element
type SlackBlock struct {
	Type string     `json:"type"`
	Text *SlackText `json:"text,omitempty"`
}

// SlackText represents text content in Slack
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color  string `json:"color"`
	Footer string `json:"footer,omitempty"`
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier() *SlackNotifier {
	return &SlackNotifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send posts the alert to the webhook URL given as destination.
func (s *SlackNotifier) Send(ctx context.Context, destination, subject, body string) error {
	msg := buildAlertMessage(subject, body)

	payload, err := json.Marshal(msg)
	if err != nil {
		return faults.Wrap(faults.Notification, "slack.marshal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(payload))
	if err != nil {
		return faults.Wrap(faults.Notification, "slack.request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return faults.Wrap(faults.Notification, "slack.post", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return faults.New(faults.Notification, "slack.post",
			"webhook returned status "+resp.Status+": "+string(respBody))
	}

	return nil
}

// buildAlertMessage lays out the alert as a header block with the subject
// and a section block with the body, in a danger-colored attachment.
func buildAlertMessage(subject, body string) SlackMessage {
	return SlackMessage{
		Blocks: []SlackBlock{
			{
				Type: "header",
				Text: &SlackText{
					Type: "plain_text",
					Text: subject,
				},
			},
			{
				Type: "section",
				Text: &SlackText{
					Type: "mrkdwn",
					Text: body,
				},
			},
		},
		Attachments: []SlackAttachment{
			{
				Color:  "danger",
				Footer: "ecswatch agent-disconnect monitor",
			},
		},
	}
}
