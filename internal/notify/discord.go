package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// DiscordSender posts alerts as webhook embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender returns a sender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

var severityColors = map[domain.Severity]int{
	domain.SeverityCritical: 0xE01E5A,
	domain.SeverityHigh:     0xF2A33A,
	domain.SeverityMedium:   0xECB22E,
}

func severityColor(s domain.Severity) int {
	if c, ok := severityColors[s]; ok {
		return c
	}
	return 0x7289DA
}

// Send posts one embed coloured by severity.
func (d *DiscordSender) Send(ctx context.Context, a Alert) error {
	body := map[string][]discordEmbed{
		"embeds": {{Title: a.Title, Description: a.Message, Color: severityColor(a.Severity)}},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, body); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
