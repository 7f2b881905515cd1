package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"pivotwatch/internal/model"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends alerts via Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (t *TelegramNotifier) Deliver(ctx context.Context, alert model.Alert) (bool, string) {
	body, _ := json.Marshal(map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       telegramText(alert),
		"parse_mode": "MarkdownV2",
	})

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Sprintf("Telegram Error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("Telegram Error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return false, fmt.Sprintf("Telegram Failed: %d - %s", resp.StatusCode, text)
	}

	log.Printf("[telegram] sent alert: %s", alert.Title())
	return true, fmt.Sprintf("Telegram OK: %d", resp.StatusCode)
}

func telegramText(a model.Alert) string {
	var sb strings.Builder
	sb.WriteString("📈 *" + escapeMarkdown(a.Title()) + "*\n\n")
	sb.WriteString(escapeMarkdown(fmt.Sprintf("Buffer: %s", strings.Join(a.BufferTail, " "))) + "\n")
	sb.WriteString(escapeMarkdown(fmt.Sprintf("Close: %g", a.PriceClose)) + "\n")
	if n := len(a.PivotsTail); n > 0 {
		last := a.PivotsTail[n-1]
		sb.WriteString(escapeMarkdown(fmt.Sprintf("Last pivot: %s %g @ %s", last.Kind, last.Price, last.TimeUTC)) + "\n")
	}
	sb.WriteString(escapeMarkdown(a.TSUTC))
	return sb.String()
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
