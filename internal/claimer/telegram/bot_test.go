package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
	"github.com/aussiebroadwan/grabbit/internal/claimer/service"
)

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in, cmd, arg string
	}{
		{"/claim", "/claim", ""},
		{"/tfa 123456", "/tfa", "123456"},
		{"/claim@grabbit_bot", "/claim", ""},
		{"/TFA 123456", "/tfa", "123456"},
		{"  /status  ", "/status", ""},
		{"", "", ""},
	}

	for _, tc := range cases {
		cmd, arg := splitCommand(tc.in)
		require.Equal(t, tc.cmd, cmd, "input %q", tc.in)
		require.Equal(t, tc.arg, arg, "input %q", tc.in)
	}
}

// fakeControl scripts the orchestrator side of the conversation.
type fakeControl struct {
	mu         sync.Mutex
	checkRuns  int
	claimRuns  int
	cancelErr  error
	claimErr   error
	report     domain.RunReport
	status     service.StatusReport
	tfaResults map[string]domain.TwoFactorResult
	tfaErr     error
}

func (f *fakeControl) TriggerCheck(context.Context) (domain.RunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkRuns++
	return f.report, nil
}

func (f *fakeControl) TriggerClaim(context.Context) (domain.RunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimRuns++
	return f.report, f.claimErr
}

func (f *fakeControl) SubmitTwoFactorCode(_ context.Context, code string) (domain.TwoFactorResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tfaErr != nil {
		return domain.TwoFactorResult{}, f.tfaErr
	}
	return f.tfaResults[code], nil
}

func (f *fakeControl) CancelTwoFactor() error {
	return f.cancelErr
}

func (f *fakeControl) Status(context.Context) (service.StatusReport, error) {
	return f.status, nil
}

// fakeBotAPI serves getUpdates and records sendMessage calls.
type fakeBotAPI struct {
	mu      sync.Mutex
	pending []Update
	sent    []string
}

func (f *fakeBotAPI) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/bottest-token/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		updates := f.pending
		f.pending = nil
		f.mu.Unlock()

		if updates == nil {
			updates = []Update{}
			time.Sleep(10 * time.Millisecond) // crude long-poll stand-in
		}
		payload, _ := json.Marshal(updates)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": json.RawMessage(payload)})
	})

	mux.HandleFunc("/bottest-token/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChatID int64  `json:"chat_id"`
			Text   string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.sent = append(f.sent, body.Text)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": json.RawMessage(`{}`)})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeBotAPI) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeBotAPI) push(chatID int64, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := int64(len(f.sent) + len(f.pending) + 1)
	u := Update{UpdateID: id}
	u.Message = &Message{MessageID: id, Text: text}
	u.Message.Chat.ID = chatID
	f.pending = append(f.pending, u)
}

func newTestBot(t *testing.T, control ControlSurface) (*Bot, *fakeBotAPI) {
	t.Helper()

	fake := &fakeBotAPI{}
	srv := fake.server(t)

	api := NewAPI(srv.Client(), "test-token")
	api.Base = srv.URL

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bot := NewBot(api, control, []int64{42}, log)
	bot.PollTimeout = time.Second
	return bot, fake
}

func waitForReply(t *testing.T, fake *fakeBotAPI, substr string) string {
	t.Helper()

	var found string
	require.Eventually(t, func() bool {
		for _, m := range fake.messages() {
			if strings.Contains(m, substr) {
				found = m
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "no reply containing %q", substr)
	return found
}

func TestBotAnswersHelp(t *testing.T) {
	bot, fake := newTestBot(t, &fakeControl{})
	bot.Start(context.Background())
	defer bot.Stop()

	fake.push(42, "/help")
	waitForReply(t, fake, "/tfa <code>")
}

func TestBotIgnoresUnauthorizedChats(t *testing.T) {
	control := &fakeControl{}
	bot, fake := newTestBot(t, control)
	bot.Start(context.Background())
	defer bot.Stop()

	fake.push(99, "/claim")
	fake.push(42, "/help")
	waitForReply(t, fake, "Commands:")

	control.mu.Lock()
	defer control.mu.Unlock()
	require.Zero(t, control.claimRuns, "commands from unknown chats must not reach the orchestrator")
}

func TestBotClaimReportsOutcomes(t *testing.T) {
	control := &fakeControl{
		report: domain.RunReport{
			Outcomes: []domain.ClaimOutcome{
				{ItemID: "game-a", Title: "Game A", Status: domain.ClaimStatusClaimed},
				{ItemID: "game-b", Title: "Game B", Status: domain.ClaimStatusFailed, Detail: "REGION_LOCKED"},
			},
		},
	}
	bot, fake := newTestBot(t, control)
	bot.Start(context.Background())
	defer bot.Stop()

	fake.push(42, "/claim")
	reply := waitForReply(t, fake, "Claimed: Game A")
	require.Contains(t, reply, "Failed: Game B (REGION_LOCKED)")
}

func TestBotClaimWhileBusy(t *testing.T) {
	control := &fakeControl{claimErr: domain.ErrBusy}
	bot, fake := newTestBot(t, control)
	bot.Start(context.Background())
	defer bot.Stop()

	fake.push(42, "/claim")
	waitForReply(t, fake, "already in progress")
}

func TestBotClaimSuspendedOnChallenge(t *testing.T) {
	control := &fakeControl{claimErr: service.ErrTwoFactorPending}
	bot, fake := newTestBot(t, control)
	bot.Start(context.Background())
	defer bot.Stop()

	fake.push(42, "/claim")
	waitForReply(t, fake, "two-factor code is required")
}

func TestBotTwoFactorFlow(t *testing.T) {
	control := &fakeControl{
		tfaResults: map[string]domain.TwoFactorResult{
			"000000": {Status: domain.TwoFactorInvalidCode},
			"123456": {Status: domain.TwoFactorAccepted},
		},
	}
	bot, fake := newTestBot(t, control)
	bot.Start(context.Background())
	defer bot.Stop()

	fake.push(42, "/tfa 000000")
	waitForReply(t, fake, "Code rejected")

	fake.push(42, "/tfa 123456")
	waitForReply(t, fake, "Code accepted")
}

func TestBotTwoFactorNothingPending(t *testing.T) {
	control := &fakeControl{tfaErr: domain.ErrNothingPending}
	bot, fake := newTestBot(t, control)
	bot.Start(context.Background())
	defer bot.Stop()

	fake.push(42, "/tfa 123456")
	waitForReply(t, fake, "No two-factor challenge is pending")
}

func TestBotStatus(t *testing.T) {
	control := &fakeControl{
		status: service.StatusReport{
			SessionValid:     true,
			SessionExpiresAt: time.Date(2026, 8, 23, 20, 0, 0, 0, time.UTC),
			ClaimedCount:     7,
		},
	}
	bot, fake := newTestBot(t, control)
	bot.Start(context.Background())
	defer bot.Stop()

	fake.push(42, "/status")
	reply := waitForReply(t, fake, "Claimed so far: 7")
	require.Contains(t, reply, "Session: valid until 2026-08-23")
}

func TestRenderStatusAwaitingCode(t *testing.T) {
	out := renderStatus(service.StatusReport{
		Busy:            true,
		AwaitingCode:    true,
		ChallengeMethod: "email",
	})
	require.Contains(t, out, "Run: in progress")
	require.Contains(t, out, "awaiting code (email)")
	require.Contains(t, out, "Session: none")
}
