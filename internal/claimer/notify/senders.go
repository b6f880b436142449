package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/grabbit/internal/claimer/telegram"
	"github.com/aussiebroadwan/grabbit/pkg/httpx"
)

// TelegramSender pushes notifications to a set of chats through the bot.
type TelegramSender struct {
	API     *telegram.API
	ChatIDs []int64
}

func (s *TelegramSender) Send(ctx context.Context, text string) error {
	var firstErr error
	for _, chatID := range s.ChatIDs {
		if err := s.API.SendMessage(ctx, chatID, text); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DiscordSender posts notifications to a webhook.
type DiscordSender struct {
	HTTP       *http.Client
	WebhookURL string
}

func (s *DiscordSender) Send(ctx context.Context, text string) error {
	resp, err := httpx.PostJSON(ctx, s.HTTP, s.WebhookURL, map[string]string{
		"content": text,
	})
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer httpx.DrainClose(resp)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned %d", resp.StatusCode)
	}
	return nil
}
