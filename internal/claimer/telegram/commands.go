package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
	"github.com/aussiebroadwan/grabbit/internal/claimer/service"
)

const helpText = `Commands:
/status - session, ledger and challenge state
/check - list claimable items without claiming
/claim - run a full claim pass now
/tfa <code> - answer the pending two-factor challenge
/cancel - abandon the pending challenge
/help - this text`

// handle dispatches one inbound message. Unknown text is answered with the
// help so a typo never fails silently.
func (b *Bot) handle(ctx context.Context, msg Message) {
	cmd, arg := splitCommand(msg.Text)
	b.Log.Info("command received", "chat_id", msg.Chat.ID, "command", cmd)

	switch cmd {
	case "/start", "/help":
		b.reply(ctx, msg.Chat.ID, helpText)
	case "/status":
		b.handleStatus(ctx, msg.Chat.ID)
	case "/check":
		b.handleCheck(ctx, msg.Chat.ID)
	case "/claim":
		b.handleClaim(ctx, msg.Chat.ID)
	case "/tfa":
		b.handleTwoFactor(ctx, msg.Chat.ID, arg)
	case "/cancel":
		b.handleCancel(ctx, msg.Chat.ID)
	default:
		b.reply(ctx, msg.Chat.ID, "Unknown command.\n\n"+helpText)
	}
}

// splitCommand separates the command word from its argument and strips the
// @botname suffix Telegram appends in group chats.
func splitCommand(text string) (cmd, arg string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return "", ""
	}
	cmd = fields[0]
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	if len(fields) > 1 {
		arg = fields[1]
	}
	return strings.ToLower(cmd), arg
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	status, err := b.Control.Status(ctx)
	if err != nil {
		b.reply(ctx, chatID, "Status unavailable: "+err.Error())
		return
	}
	b.reply(ctx, chatID, renderStatus(status))
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64) {
	report, err := b.Control.TriggerCheck(ctx)
	b.replyForRun(ctx, chatID, report, err)
}

func (b *Bot) handleClaim(ctx context.Context, chatID int64) {
	report, err := b.Control.TriggerClaim(ctx)
	b.replyForRun(ctx, chatID, report, err)
}

func (b *Bot) replyForRun(ctx context.Context, chatID int64, report domain.RunReport, err error) {
	switch {
	case errors.Is(err, domain.ErrBusy):
		b.reply(ctx, chatID, "Another run is already in progress.")
	case errors.Is(err, service.ErrTwoFactorPending):
		b.reply(ctx, chatID, "A two-factor code is required. Reply with /tfa <code>.")
	case err != nil:
		b.reply(ctx, chatID, "Run failed: "+report.Err)
	default:
		b.reply(ctx, chatID, renderRunReport(report))
	}
}

func (b *Bot) handleTwoFactor(ctx context.Context, chatID int64, code string) {
	if code == "" {
		b.reply(ctx, chatID, "Usage: /tfa <code>")
		return
	}

	res, err := b.Control.SubmitTwoFactorCode(ctx, code)
	if errors.Is(err, domain.ErrNothingPending) {
		b.reply(ctx, chatID, "No two-factor challenge is pending.")
		return
	}
	if err != nil {
		b.reply(ctx, chatID, "Code submission failed: "+err.Error())
		return
	}

	switch res.Status {
	case domain.TwoFactorAccepted:
		b.reply(ctx, chatID, "Code accepted, the run is resuming.")
	case domain.TwoFactorInvalidCode:
		b.reply(ctx, chatID, "Code rejected, try again with /tfa <code>.")
	case domain.TwoFactorExpired:
		b.reply(ctx, chatID, "The challenge has expired. Trigger a new run with /claim.")
	}
}

func (b *Bot) handleCancel(ctx context.Context, chatID int64) {
	err := b.Control.CancelTwoFactor()
	switch {
	case errors.Is(err, domain.ErrNothingPending):
		b.reply(ctx, chatID, "No two-factor challenge is pending.")
	case err != nil:
		b.reply(ctx, chatID, "Cancel failed: "+err.Error())
	default:
		b.reply(ctx, chatID, "Challenge cancelled. The run was abandoned.")
	}
}

func renderStatus(s service.StatusReport) string {
	var sb strings.Builder

	if s.Busy {
		sb.WriteString("Run: in progress\n")
	} else {
		sb.WriteString("Run: idle\n")
	}
	if s.AwaitingCode {
		fmt.Fprintf(&sb, "Two-factor: awaiting code (%s)\n", s.ChallengeMethod)
	}
	if s.SessionValid {
		fmt.Fprintf(&sb, "Session: valid until %s\n", s.SessionExpiresAt.UTC().Format("2006-01-02 15:04 MST"))
	} else {
		sb.WriteString("Session: none, next run will log in\n")
	}
	fmt.Fprintf(&sb, "Claimed so far: %d", s.ClaimedCount)

	if s.LastRun != nil {
		fmt.Fprintf(&sb, "\nLast run: %s at %s",
			s.LastRun.Trigger, s.LastRun.FinishedAt.UTC().Format("2006-01-02 15:04 MST"))
		if s.LastRun.Err != "" {
			fmt.Fprintf(&sb, " (failed: %s)", s.LastRun.Err)
		}
	}
	return sb.String()
}

func renderRunReport(r domain.RunReport) string {
	if len(r.Outcomes) == 0 {
		return "Nothing new to claim."
	}

	var sb strings.Builder
	for _, o := range r.Outcomes {
		switch o.Status {
		case domain.ClaimStatusClaimed:
			fmt.Fprintf(&sb, "Claimed: %s\n", o.Title)
		case domain.ClaimStatusAlreadyOwned:
			fmt.Fprintf(&sb, "Already owned: %s\n", o.Title)
		case domain.ClaimStatusEligible:
			fmt.Fprintf(&sb, "Claimable: %s\n", o.Title)
		case domain.ClaimStatusFailed:
			fmt.Fprintf(&sb, "Failed: %s (%s)\n", o.Title, o.Detail)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
