package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	discordMaxTitle       = 256
	discordMaxDescription = 4096
)

// Embed colours keyed by the severity tag FormatEvent puts in the title.
var discordColours = map[string]int{
	"[CRITICAL]": 0xC0392B,
	"[ERROR]":    0xE67E22,
	"[WARNING]":  0xF1C40F,
	"[INFO]":     0x3498DB,
}

// DiscordSender posts alerts to a Discord webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

// NewDiscordSender creates a DiscordSender with a 10-second HTTP timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color,omitempty"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Username        string         `json:"username"`
	Embeds          []discordEmbed `json:"embeds"`
	AllowedMentions map[string]any `json:"allowed_mentions"`
}

// Send posts title and message as an embed coloured by severity. Mentions
// are disabled.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	embed := discordEmbed{
		Title:       truncate(title, discordMaxTitle),
		Description: truncate(message, discordMaxDescription),
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}
	for tag, colour := range discordColours {
		if strings.HasPrefix(title, tag) {
			embed.Color = colour
			break
		}
	}

	body, err := json.Marshal(discordPayload{
		Username:        "densitybot",
		Embeds:          []discordEmbed{embed},
		AllowedMentions: map[string]any{"parse": []string{}},
	})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
