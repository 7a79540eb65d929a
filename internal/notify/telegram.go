package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts alerts to one chat through the Bot API.
type TelegramSender struct {
	endpoint string
	chatID   string
	client   *http.Client
}

// NewTelegramSender returns a sender for bot token and chatID. An empty
// baseURL targets the public API.
func NewTelegramSender(baseURL, token, chatID string) *TelegramSender {
	if baseURL == "" {
		baseURL = telegramAPI
	}
	return &TelegramSender{
		endpoint: strings.TrimRight(baseURL, "/") + "/bot" + token + "/sendMessage",
		chatID:   chatID,
		client:   newHTTPClient(),
	}
}

type telegramMessage struct {
	ChatID         string `json:"chat_id"`
	Text           string `json:"text"`
	ParseMode      string `json:"parse_mode"`
	DisablePreview bool   `json:"disable_web_page_preview"`
}

// Send posts the alert with its title in bold.
func (t *TelegramSender) Send(ctx context.Context, a Alert) error {
	msg := telegramMessage{
		ChatID:         t.chatID,
		Text:           "*" + a.Title + "*\n" + a.Message,
		ParseMode:      "Markdown",
		DisablePreview: true,
	}
	if err := postJSON(ctx, t.client, t.endpoint, msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
