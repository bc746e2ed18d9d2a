package notify

import (
	"context"
	"fmt"
	"net/http"
)

// discordGold is the embed colour used for every market alert.
const discordGold = 0xD4AF37

// DiscordSender posts alerts to a Discord webhook, one embed per alert.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender returns a sender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: &http.Client{Timeout: sendTimeout}}
}

// Send implements Sender.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]any{
		"username": "outcome-amm",
		"embeds": []map[string]any{{
			"title":       title,
			"description": message,
			"color":       discordGold,
		}},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name implements Sender.
func (d *DiscordSender) Name() string { return "discord" }
