package telegram

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
	"github.com/aussiebroadwan/grabbit/internal/claimer/service"
)

// ControlSurface is the slice of the orchestrator exposed over chat.
type ControlSurface interface {
	TriggerCheck(ctx context.Context) (domain.RunReport, error)
	TriggerClaim(ctx context.Context) (domain.RunReport, error)
	SubmitTwoFactorCode(ctx context.Context, code string) (domain.TwoFactorResult, error)
	CancelTwoFactor() error
	Status(ctx context.Context) (service.StatusReport, error)
}

const (
	defaultPollTimeout = 30 * time.Second
	pollErrorBackoff   = 5 * time.Second
)

// Bot runs the long-polling command loop. Only chats on the allowlist may
// issue commands; everything else is logged and dropped. Commands are
// handled concurrently so a long /claim never blocks a /tfa carrying the
// code that very claim is waiting for.
type Bot struct {
	API          *API
	Control      ControlSurface
	AllowedChats []int64
	Log          *slog.Logger
	PollTimeout  time.Duration

	cancel context.CancelFunc
	doneCh chan struct{}
}

func NewBot(api *API, control ControlSurface, allowedChats []int64, log *slog.Logger) *Bot {
	return &Bot{
		API:          api,
		Control:      control,
		AllowedChats: allowedChats,
		Log:          log,
		PollTimeout:  defaultPollTimeout,
	}
}

// Start launches the polling loop in a background goroutine.
func (b *Bot) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.doneCh = make(chan struct{})

	go b.loop(ctx)
	b.Log.Info("telegram bot started", "allowed_chats", len(b.AllowedChats))
}

// Stop terminates the loop and waits for the in-flight poll to return.
func (b *Bot) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.doneCh
	b.Log.Info("telegram bot stopped")
}

func (b *Bot) loop(ctx context.Context) {
	defer close(b.doneCh)

	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := b.API.GetUpdates(ctx, offset, int(b.PollTimeout.Seconds()))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.Log.Warn("telegram poll failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollErrorBackoff):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			if !b.allowed(u.Message.Chat.ID) {
				b.Log.Warn("dropping command from unauthorized chat",
					"chat_id", u.Message.Chat.ID, "from", u.Message.From.Username)
				continue
			}
			go b.handle(ctx, *u.Message)
		}
	}
}

func (b *Bot) allowed(chatID int64) bool {
	for _, id := range b.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.API.SendMessage(ctx, chatID, text); err != nil {
		b.Log.Error("telegram reply failed", "chat_id", chatID, "error", err)
	}
}
