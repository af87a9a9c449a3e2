package messaging

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gidra39/modelselect/config"
)

type endpoints struct {
	telegram, slack atomic.Int32
	cfg             config.Config
}

func newEndpoints(t *testing.T, slackStatus int) *endpoints {
	e := &endpoints{}
	tg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		e.telegram.Add(1)
	}))
	sl := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		e.slack.Add(1)
		w.WriteHeader(slackStatus)
	}))
	t.Cleanup(tg.Close)
	t.Cleanup(sl.Close)
	e.cfg = config.Config{
		TelegramAPIURL:   tg.URL,
		TelegramBotToken: "tok",
		TelegramChatID:   "1",
		SlackWebhookURL:  sl.URL,
	}
	return e
}

func TestSendNotificationRouting(t *testing.T) {
	tests := []struct {
		channels     string
		telegram, sl int32
	}{
		{config.ChannelNone, 0, 0},
		{"", 0, 0},
		{config.ChannelTelegram, 1, 0},
		{config.ChannelSlack, 0, 1},
		{"both", 1, 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.channels, func(t *testing.T) {
			e := newEndpoints(t, http.StatusOK)
			e.cfg.MessageChannels = tt.channels
			require.NoError(t, NewNotifier(e.cfg).Notify("done"))
			assert.Equal(t, tt.telegram, e.telegram.Load())
			assert.Equal(t, tt.sl, e.slack.Load())
		})
	}
}

func TestSendNotificationFailures(t *testing.T) {
	e := newEndpoints(t, http.StatusInternalServerError)

	e.cfg.MessageChannels = config.ChannelSlack
	assert.Error(t, SendNotification("x", e.cfg))

	e.cfg.MessageChannels = config.ChannelBoth
	assert.NoError(t, SendNotification("x", e.cfg), "telegram still delivered")

	e.cfg.TelegramBotToken = ""
	assert.Error(t, SendNotification("x", e.cfg))
}
