package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hifumi-dev/hifumi/pkg/robusthttp"
)

type SlackNotifier struct {
	SlackWebhookURL string
	Client          *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		SlackWebhookURL: webhookURL,
		Client:          robusthttp.NewClient(robusthttp.WithMaxRetries(2)),
	}
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) Notify(ctx context.Context, nt Notice) error {
	return n.sendSlackMsg(ctx, slackBody(nt))
}

// Sends a simple slack message to a channel via "incoming webhook".
//
// The slack incoming webhook must be already configured in the slack workplace.
func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(respBody) != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func slackBody(nt Notice) string {
	icon := "⚠️"
	if nt.Level == LevelError {
		icon = "🚨"
	}
	msg := fmt.Sprintf("%s %s %s\n", icon, nt.Title, icon)
	if nt.Body != "" {
		msg += nt.Body + "\n"
	}
	for _, f := range nt.Fields {
		msg += fmt.Sprintf("%s: `%s`\n", f.Key, f.Value)
	}
	return msg
}
