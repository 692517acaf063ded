package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackNotifier posts job alerts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackNotifier creates a Slack webhook notifier.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Send(ctx context.Context, alert Alert) error {
	color := "#36a64f" // green
	switch alert.Level {
	case AlertWarning:
		color = "#ff9900" // orange
	case AlertCritical:
		color = "#cc0000" // dark red
	}

	fields := []slackField{
		{Title: "Job", Value: alert.JobID, Short: true},
		{Title: "Duration", Value: alert.Duration, Short: true},
		{Title: "Stored", Value: fmt.Sprintf("%d", alert.Success), Short: true},
		{Title: "Failed", Value: fmt.Sprintf("%d", alert.Failed), Short: true},
		{Title: "Skipped", Value: fmt.Sprintf("%d", alert.Skipped), Short: true},
		{Title: "Vendor-months", Value: fmt.Sprintf("%d", alert.Total), Short: true},
	}
	if alert.Error != "" {
		fields = append(fields, slackField{Title: "Error", Value: alert.Error})
	}

	payload := slackPayload{
		Channel: s.channel,
		Text:    alert.Message,
		Attachments: []slackAttachment{
			{
				Color:  color,
				Title:  fmt.Sprintf("billsync: backfill %s", string(alert.Level)),
				Fields: fields,
				Footer: "billsync",
				Ts:     time.Now().Unix(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
