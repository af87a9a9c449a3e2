// Package messaging fans run notifications out to the configured chat
// channels.
package messaging

import (
	"strings"

	"github.com/gidra39/modelselect/config"
	"github.com/gidra39/modelselect/slack"
	"github.com/gidra39/modelselect/telegram"
)

// SendNotification delivers message on MESSAGE_CHANNELS. With BOTH it only
// fails when neither channel succeeded.
func SendNotification(message string, cfg config.Config) error {
	channels := strings.ToUpper(cfg.MessageChannels)
	if channels == "" || channels == config.ChannelNone {
		return nil
	}

	var telegramErr, slackErr error
	if channels == config.ChannelTelegram || channels == config.ChannelBoth {
		telegramErr = telegram.SendTelegramNotification(message, cfg)
	}
	if channels == config.ChannelSlack || channels == config.ChannelBoth {
		slackErr = slack.SendSlackNotification(message, cfg)
	}

	switch channels {
	case config.ChannelBoth:
		if telegramErr != nil && slackErr != nil {
			return telegramErr
		}
		return nil
	case config.ChannelTelegram:
		return telegramErr
	case config.ChannelSlack:
		return slackErr
	}
	return nil
}

// Notifier sends run notifications with a fixed configuration.
type Notifier struct {
	cfg config.Config
}

func NewNotifier(cfg config.Config) *Notifier {
	return &Notifier{cfg: cfg}
}

func (n *Notifier) Notify(text string) error {
	return SendNotification(text, n.cfg)
}
