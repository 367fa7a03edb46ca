package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"go.uber.org/zap"
)

const telegramBaseURL = "https://api.telegram.org"

// TelegramNotifier sends messages to one chat and long-polls the same bot for
// operator commands. Send is fire-and-forget: a delivery failure is logged and
// never propagated, alerting must not break trading.
type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewTelegramNotifier(token, chatID, baseURL string, logger *zap.Logger) *TelegramNotifier {
	if baseURL == "" {
		baseURL = telegramBaseURL
	}
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 35 * time.Second},
		logger:  logger,
	}
}

// Enabled reports whether credentials were configured. A disabled notifier
// still satisfies domain.Notifier; Send just logs locally.
func (t *TelegramNotifier) Enabled() bool {
	return t.token != "" && t.chatID != ""
}

func (t *TelegramNotifier) Send(text string) {
	if !t.Enabled() {
		t.logger.Info("notification (telegram disabled)", zap.String("text", text))
		return
	}

	payload, _ := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		t.logger.Error("telegram rejected message",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
	}
}

// Updates long-polls getUpdates and delivers incoming text messages until the
// context is cancelled. The channel is closed on shutdown.
func (t *TelegramNotifier) Updates(ctx context.Context) <-chan domain.IncomingMessage {
	out := make(chan domain.IncomingMessage, 16)
	if !t.Enabled() {
		close(out)
		return out
	}

	go func() {
		defer close(out)
		var offset int64
		for {
			if ctx.Err() != nil {
				return
			}
			updates, err := t.getUpdates(ctx, offset)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				t.logger.Warn("telegram poll failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
				continue
			}
			for _, u := range updates {
				offset = u.UpdateID + 1
				if u.Message.Text == "" {
					continue
				}
				msg := domain.IncomingMessage{
					ChatID: strconv.FormatInt(u.Message.Chat.ID, 10),
					Text:   u.Message.Text,
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

func (t *TelegramNotifier) getUpdates(ctx context.Context, offset int64) ([]telegramUpdate, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?timeout=30&offset=%d", t.baseURL, t.token, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool             `json:"ok"`
		Result []telegramUpdate `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram getUpdates returned ok=false")
	}
	return result.Result, nil
}
