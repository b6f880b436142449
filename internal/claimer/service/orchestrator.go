package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
	"github.com/aussiebroadwan/grabbit/internal/claimer/store"
	"github.com/aussiebroadwan/grabbit/pkg/idx"
	"github.com/aussiebroadwan/grabbit/pkg/slogx"
)

// ErrTwoFactorPending is returned by a pass that hit a two-factor challenge.
// The pass is suspended, not failed: the orchestrator slot stays held and
// the pass resumes (or finishes abandoned) through the coordinator's
// callbacks.
var ErrTwoFactorPending = errors.New("pass suspended awaiting two-factor code")

// StorefrontClient is the full storefront surface the orchestrator drives.
type StorefrontClient interface {
	Authenticate(ctx context.Context) (domain.AuthResult, error)
	SubmitTwoFactorCode(ctx context.Context, correlation, code string) (domain.TwoFactorResult, error)
	ListFreeItems(ctx context.Context) ([]domain.FreeItem, error)
	Claim(ctx context.Context, item domain.FreeItem) (domain.ClaimResult, error)
	Session() domain.Session
}

// StatusReport is a point-in-time snapshot for the control surface.
type StatusReport struct {
	Busy             bool
	AwaitingCode     bool
	ChallengeMethod  string
	SessionValid     bool
	SessionExpiresAt time.Time
	ClaimedCount     int
	LastRun          *domain.RunReport
}

// Orchestrator runs claim passes. Exactly one pass is active at a time;
// triggers that arrive while the slot is held are rejected with ErrBusy,
// never queued. A pass suspended on a two-factor challenge keeps the slot.
type Orchestrator struct {
	Client    StorefrontClient
	Store     store.Store
	Account   string
	TwoFactor *TwoFactorService
	Events    *EventPublisher
	Log       *slog.Logger

	busy atomic.Bool
	now  func() time.Time

	mu      sync.Mutex
	lastRun *domain.RunReport
}

func NewOrchestrator(client StorefrontClient, st store.Store, account string, tf *TwoFactorService, events *EventPublisher, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		Client:    client,
		Store:     st,
		Account:   account,
		TwoFactor: tf,
		Events:    events,
		Log:       log,
		now:       time.Now,
	}
}

// RunPass executes one full pass: authenticate, list the free catalog, claim
// everything eligible and not yet in the ledger, record the results. With
// checkOnly the claim step is skipped and eligible items are reported as
// such.
//
// Returns ErrBusy if another pass holds the slot and ErrTwoFactorPending if
// this pass suspended on a challenge.
func (o *Orchestrator) RunPass(ctx context.Context, trigger domain.TriggerKind, checkOnly bool) (domain.RunReport, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return domain.RunReport{}, domain.ErrBusy
	}
	return o.run(ctx, idx.New().String(), trigger, checkOnly)
}

// run executes the pass body with the slot already held. Every exit path
// releases the slot except a two-factor suspension, which hands ownership to
// the coordinator callbacks.
func (o *Orchestrator) run(ctx context.Context, passID string, trigger domain.TriggerKind, checkOnly bool) (domain.RunReport, error) {
	log := o.Log.With("pass_id", passID, "trigger", trigger, "check_only", checkOnly)
	ctx = slogx.WithContext(ctx, log)

	report := domain.RunReport{
		PassID:    passID,
		Trigger:   trigger,
		CheckOnly: checkOnly,
		StartedAt: o.now(),
	}

	suspended := false
	defer func() {
		if !suspended {
			o.busy.Store(false)
		}
	}()

	log.Info("pass started")

	auth, err := o.Client.Authenticate(ctx)
	if err != nil {
		return o.finish(log, report, fmt.Errorf("authenticate: %w", err)), err
	}

	switch auth.Status {
	case domain.AuthFailed:
		err := fmt.Errorf("%w: %s", domain.ErrAuthRequired, auth.Reason)
		return o.finish(log, report, err), err

	case domain.AuthChallengeRequired:
		if err := o.suspend(report, auth.Challenge); err != nil {
			return o.finish(log, report, err), err
		}
		suspended = true
		log.Info("pass suspended on two-factor challenge",
			"correlation", auth.Challenge.Correlation)
		return report, ErrTwoFactorPending
	}

	report.AuthEvents = append(report.AuthEvents, "authenticated via "+auth.Method)
	return o.claimPhase(ctx, log, report, checkOnly)
}

// suspend registers the challenge with the coordinator. On resolution the
// pass restarts from authentication with the slot still held; on
// abandonment the pass finishes failed and the slot is released.
func (o *Orchestrator) suspend(report domain.RunReport, ch domain.Challenge) error {
	onResolved := func() {
		log := o.Log.With("pass_id", report.PassID, "trigger", report.Trigger)
		log.Info("pass resuming after two-factor resolution")

		_, err := o.run(slogx.WithContext(context.Background(), log),
			report.PassID, report.Trigger, report.CheckOnly)
		if err != nil && !errors.Is(err, ErrTwoFactorPending) {
			log.Error("resumed pass failed", "error", err)
		}
	}

	onAbandoned := func(reason string) {
		log := o.Log.With("pass_id", report.PassID, "trigger", report.Trigger)
		o.finish(log, report, fmt.Errorf("%w: %s", domain.ErrAuthRequired, reason))
		o.busy.Store(false)
	}

	return o.TwoFactor.Begin(ch, onResolved, onAbandoned)
}

// claimPhase walks the free catalog in order, skipping ledgered and
// ineligible items, and claims (or just reports) the rest. A session
// rejection mid-pass earns exactly one re-authentication.
func (o *Orchestrator) claimPhase(ctx context.Context, log *slog.Logger, report domain.RunReport, checkOnly bool) (domain.RunReport, error) {
	reauthed := false

	items, err := o.Client.ListFreeItems(ctx)
	if errors.Is(err, domain.ErrAuthExpired) {
		if err = o.reauth(ctx, &report); err == nil {
			reauthed = true
			items, err = o.Client.ListFreeItems(ctx)
		}
	}
	if err != nil {
		err = fmt.Errorf("list free items: %w", err)
		return o.finish(log, report, err), err
	}

	log.Info("free catalog fetched", "items", len(items))

	for _, item := range items {
		if !item.Eligible {
			log.Debug("skipping ineligible item", "item_id", item.ID, "title", item.Title)
			continue
		}

		claimed, err := o.Store.Ledger().HasEntry(ctx, o.Account, item.ID)
		if err != nil {
			err = fmt.Errorf("ledger lookup: %w", err)
			return o.finish(log, report, err), err
		}
		if claimed {
			log.Debug("already in ledger", "item_id", item.ID, "title", item.Title)
			continue
		}

		if checkOnly {
			report.Outcomes = append(report.Outcomes, domain.ClaimOutcome{
				ItemID: item.ID,
				Title:  item.Title,
				Status: domain.ClaimStatusEligible,
			})
			continue
		}

		res, err := o.Client.Claim(ctx, item)
		if errors.Is(err, domain.ErrAuthExpired) && !reauthed {
			if err = o.reauth(ctx, &report); err == nil {
				reauthed = true
				res, err = o.Client.Claim(ctx, item)
			}
		}
		if err != nil {
			err = fmt.Errorf("claim %q: %w", item.Title, err)
			return o.finish(log, report, err), err
		}

		outcome := domain.ClaimOutcome{
			ItemID:    item.ID,
			Title:     item.Title,
			Status:    res.Status,
			Retryable: res.Retryable,
			Detail:    res.Detail,
		}
		report.Outcomes = append(report.Outcomes, outcome)

		switch res.Status {
		case domain.ClaimStatusClaimed, domain.ClaimStatusAlreadyOwned:
			log.Info("item claimed", "item_id", item.ID, "title", item.Title, "status", res.Status)
			if err := o.Store.Ledger().AddEntry(ctx, o.Account, domain.LedgerEntry{
				ItemID:    item.ID,
				Title:     item.Title,
				ClaimedAt: o.now(),
			}); err != nil {
				err = fmt.Errorf("record ledger entry: %w", err)
				return o.finish(log, report, err), err
			}
		default:
			log.Warn("claim failed", "item_id", item.ID, "title", item.Title,
				"retryable", res.Retryable, "detail", res.Detail)
		}
	}

	return o.finish(log, report, nil), nil
}

// reauth is the single mid-pass recovery from a rejected session.
func (o *Orchestrator) reauth(ctx context.Context, report *domain.RunReport) error {
	auth, err := o.Client.Authenticate(ctx)
	if err != nil {
		return err
	}
	if auth.Status != domain.AuthAuthenticated {
		return fmt.Errorf("%w: session rejected mid-pass", domain.ErrAuthRequired)
	}
	report.AuthEvents = append(report.AuthEvents, "re-authenticated via "+auth.Method)
	return nil
}

// finish stamps and records the report and publishes RunCompleted.
func (o *Orchestrator) finish(log *slog.Logger, report domain.RunReport, err error) domain.RunReport {
	report.FinishedAt = o.now()
	if err != nil {
		report.Err = err.Error()
		log.Error("pass failed", "error", err)
	} else {
		log.Info("pass finished",
			"claimed", len(report.Claimed()), "failed", len(report.Failed()))
	}

	o.mu.Lock()
	snapshot := report
	o.lastRun = &snapshot
	o.mu.Unlock()

	o.Events.RunCompleted(report)
	return report
}

// TriggerCheck runs a report-only pass: eligible unclaimed items are listed
// but nothing is submitted or written to the ledger.
func (o *Orchestrator) TriggerCheck(ctx context.Context) (domain.RunReport, error) {
	return o.RunPass(ctx, domain.TriggerManualCheck, true)
}

// TriggerClaim runs a full manual pass.
func (o *Orchestrator) TriggerClaim(ctx context.Context) (domain.RunReport, error) {
	return o.RunPass(ctx, domain.TriggerManualClaim, false)
}

// SubmitTwoFactorCode relays a code to the outstanding challenge.
func (o *Orchestrator) SubmitTwoFactorCode(ctx context.Context, code string) (domain.TwoFactorResult, error) {
	return o.TwoFactor.Submit(ctx, code)
}

// CancelTwoFactor abandons the outstanding challenge.
func (o *Orchestrator) CancelTwoFactor() error {
	return o.TwoFactor.Cancel()
}

// Status snapshots the orchestrator for the control surface.
func (o *Orchestrator) Status(ctx context.Context) (StatusReport, error) {
	count, err := o.Store.Ledger().CountEntries(ctx, o.Account)
	if err != nil {
		return StatusReport{}, fmt.Errorf("count ledger entries: %w", err)
	}

	state, ch := o.TwoFactor.State()
	sess := o.Client.Session()

	o.mu.Lock()
	last := o.lastRun
	o.mu.Unlock()

	return StatusReport{
		Busy:             o.busy.Load(),
		AwaitingCode:     state == ChallengeAwaiting,
		ChallengeMethod:  ch.Method,
		SessionValid:     sess.Usable(o.now()),
		SessionExpiresAt: sess.ExpiresAt,
		ClaimedCount:     count,
		LastRun:          last,
	}, nil
}
