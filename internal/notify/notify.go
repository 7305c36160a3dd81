package notify

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Notifier delivers operational messages about pipeline failures and
// configuration problems. Delivery is fire-and-forget: implementations
// swallow their own errors, because notifications are observability, not
// correctness.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// LogNotifier writes notifications to the process log. Used when no
// external sink is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, message string) {
	log.Printf("notify: %s", message)
}

// TelegramNotifier posts messages to a Telegram chat via the bot API.
type TelegramNotifier struct {
	Token  string
	ChatID string

	HTTPClient *http.Client
}

// NewTelegram builds a Telegram sink; returns a LogNotifier when the token
// or chat id is missing so callers never need a nil check.
func NewTelegram(token, chatID string) Notifier {
	if token == "" || chatID == "" {
		return LogNotifier{}
	}
	return &TelegramNotifier{
		Token:      token,
		ChatID:     chatID,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (t *TelegramNotifier) Notify(ctx context.Context, message string) {
	endpoint := "https://api.telegram.org/bot" + t.Token + "/sendMessage"
	form := url.Values{}
	form.Set("chat_id", t.ChatID)
	form.Set("text", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		log.Printf("notify: build telegram request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		log.Printf("notify: telegram send failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("notify: telegram responded %d", resp.StatusCode)
	}
}
