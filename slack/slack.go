package slack

import (
	"bytes"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/gidra39/modelselect/config"
	"github.com/gidra39/modelselect/logging"
)

type SlackMessage struct {
	Text string `json:"text"`
}

var client = &http.Client{Timeout: 10 * time.Second}

func SendSlackNotification(message string, cfg config.Config) error {
	if cfg.SlackWebhookURL == "" {
		return errors.New("slack webhook URL is not configured")
	}

	payload, err := json.Marshal(SlackMessage{Text: message})
	if err != nil {
		return errors.Wrap(err, "failed to marshal slack message")
	}

	resp, err := client.Post(cfg.SlackWebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to send Slack notification")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("slack API returned status code %d", resp.StatusCode)
	}

	logging.Debug().Str("channel", config.ChannelSlack).Msg("notification sent")
	return nil
}
