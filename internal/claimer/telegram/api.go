// Package telegram implements the chat control channel over the Telegram
// Bot API: a long-polling command loop plus outbound message delivery.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aussiebroadwan/grabbit/pkg/httpx"
)

const defaultAPIBase = "https://api.telegram.org"

// API is a minimal Bot API client covering the two methods the claimer
// needs: getUpdates (long poll) and sendMessage.
type API struct {
	HTTP  *http.Client
	Token string
	Base  string // overridable for tests
}

func NewAPI(httpClient *http.Client, token string) *API {
	return &API{HTTP: httpClient, Token: token, Base: defaultAPIBase}
}

// Update is one long-poll result entry.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is the inbound message subset the bot cares about.
type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	From struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (a *API) methodURL(method string) string {
	return a.Base + "/bot" + a.Token + "/" + method
}

// GetUpdates long-polls for updates after offset. timeoutSeconds is the
// server-side hold; the call returns early when updates arrive.
func (a *API) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", strconv.Itoa(timeoutSeconds))
	q.Set("allowed_updates", `["message"]`)

	resp, err := httpx.GetJSON(ctx, a.HTTP, a.methodURL("getUpdates")+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("telegram getUpdates: %w", err)
	}

	var body apiResponse
	if err := httpx.DecodeJSON(resp, &body); err != nil {
		return nil, fmt.Errorf("telegram getUpdates: %w", err)
	}
	if !body.OK {
		return nil, fmt.Errorf("telegram getUpdates: %s", body.Description)
	}

	var updates []Update
	if err := json.Unmarshal(body.Result, &updates); err != nil {
		return nil, fmt.Errorf("telegram getUpdates: %w", err)
	}
	return updates, nil
}

// SendMessage delivers text to a chat.
func (a *API) SendMessage(ctx context.Context, chatID int64, text string) error {
	resp, err := httpx.PostJSON(ctx, a.HTTP, a.methodURL("sendMessage"), map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}

	var body apiResponse
	if err := httpx.DecodeJSON(resp, &body); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	if !body.OK {
		return fmt.Errorf("telegram sendMessage: %s", body.Description)
	}
	return nil
}
