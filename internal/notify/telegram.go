package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	telegramAPIBase = "https://api.telegram.org"
	telegramMaxText = 4096
)

// TelegramSender posts plain-text messages through the Bot API.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: telegramAPIBase,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// No parse_mode: symbols and event types carry underscores.
type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	body, err := json.Marshal(telegramMessage{
		ChatID:                t.chatID,
		Text:                  truncate(title+"\n"+message, telegramMaxText),
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	endpoint := t.apiBase + "/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", t.scrub(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", t.scrub(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var tr telegramResponse
	if json.Unmarshal(raw, &tr) != nil || tr.Description == "" {
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if tr.Parameters.RetryAfter > 0 {
		return fmt.Errorf("telegram: status %d: %s (retry after %ds)", resp.StatusCode, tr.Description, tr.Parameters.RetryAfter)
	}
	return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, tr.Description)
}

// scrub drops the request URL from transport errors; it embeds the token.
func (t *TelegramSender) scrub(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

func (t *TelegramSender) Name() string {
	return "telegram"
}
