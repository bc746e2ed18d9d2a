package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramSender posts alerts to one chat through the Bot API.
type TelegramSender struct {
	endpoint string
	chatID   string
	client   *http.Client
}

// NewTelegramSender returns a sender for the bot token and chat. An empty
// apiBase selects DefaultTelegramAPI; tests point it at httptest.
func NewTelegramSender(apiBase, token, chatID string) *TelegramSender {
	if apiBase == "" {
		apiBase = DefaultTelegramAPI
	}
	return &TelegramSender{
		endpoint: strings.TrimSuffix(apiBase, "/") + "/bot" + token + "/sendMessage",
		chatID:   chatID,
		client:   &http.Client{Timeout: sendTimeout},
	}
}

// Send implements Sender. The title is bold in Telegram's legacy Markdown.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       "*" + title + "*\n" + message,
		"parse_mode": "Markdown",
	}
	// The endpoint embeds the bot token, so errors never include it.
	if err := postJSON(ctx, t.client, t.endpoint, payload); err != nil {
		return fmt.Errorf("telegram: %w", redactToken(err, t.endpoint))
	}
	return nil
}

// Name implements Sender.
func (t *TelegramSender) Name() string { return "telegram" }

func redactToken(err error, endpoint string) error {
	if msg := err.Error(); strings.Contains(msg, endpoint) {
		return fmt.Errorf("%s", strings.ReplaceAll(msg, endpoint, "<telegram endpoint>"))
	}
	return err
}
