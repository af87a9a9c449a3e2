package telegram

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/gidra39/modelselect/config"
	"github.com/gidra39/modelselect/logging"
)

var client = &http.Client{Timeout: 10 * time.Second}

// SendTelegramNotification posts message to the configured chat through
// the Bot API.
func SendTelegramNotification(message string, cfg config.Config) error {
	if cfg.TelegramBotToken == "" || cfg.TelegramChatID == "" {
		return errors.New("telegram bot token or chat id is not configured")
	}
	base := strings.TrimRight(cfg.TelegramAPIURL, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	endpoint := base + "/bot" + cfg.TelegramBotToken + "/sendMessage"

	params := url.Values{}
	params.Add("chat_id", cfg.TelegramChatID)
	params.Add("text", message)

	resp, err := client.PostForm(endpoint, params)
	if err != nil {
		// The request error embeds the URL, and with it the bot token.
		return errors.New("failed to send Telegram notification")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("telegram API returned status code %d", resp.StatusCode)
	}

	logging.Debug().Str("channel", config.ChannelTelegram).Msg("notification sent")
	return nil
}
