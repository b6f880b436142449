package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
)

// CodeSubmitter is the slice of the storefront client the coordinator needs.
type CodeSubmitter interface {
	SubmitTwoFactorCode(ctx context.Context, correlation, code string) (domain.TwoFactorResult, error)
}

type ChallengeState string

const (
	ChallengeIdle     ChallengeState = "idle"
	ChallengeAwaiting ChallengeState = "awaiting_code"
)

const (
	DefaultChallengeTimeout = 10 * time.Minute
	DefaultMaxAttempts      = 3
)

// TwoFactorService coordinates the single outstanding two-factor challenge.
// At most one challenge exists at a time; while it is outstanding the
// owning pass stays suspended and the orchestrator slot stays held.
//
// Resolution and abandonment are reported through the callbacks given to
// Begin, always from a fresh goroutine so the submitting caller is never
// blocked on the resumed pass.
type TwoFactorService struct {
	Submitter   CodeSubmitter
	Events      *EventPublisher
	Log         *slog.Logger
	Timeout     time.Duration
	MaxAttempts int

	// TOTPSecret, when set, lets the service answer authenticator
	// challenges itself before asking a human.
	TOTPSecret string

	mu          sync.Mutex
	state       ChallengeState
	challenge   domain.Challenge
	attempts    int
	timer       *time.Timer
	onResolved  func()
	onAbandoned func(reason string)
}

func NewTwoFactorService(sub CodeSubmitter, events *EventPublisher, log *slog.Logger) *TwoFactorService {
	return &TwoFactorService{
		Submitter:   sub,
		Events:      events,
		Log:         log,
		Timeout:     DefaultChallengeTimeout,
		MaxAttempts: DefaultMaxAttempts,
		state:       ChallengeIdle,
	}
}

// Begin registers a fresh challenge and arms the expiry timer. Returns
// ErrBusy when another challenge is still outstanding.
func (s *TwoFactorService) Begin(ch domain.Challenge, onResolved func(), onAbandoned func(reason string)) error {
	s.mu.Lock()
	if s.state == ChallengeAwaiting {
		s.mu.Unlock()
		return domain.ErrBusy
	}

	s.state = ChallengeAwaiting
	s.challenge = ch
	s.attempts = 0
	s.onResolved = onResolved
	s.onAbandoned = onAbandoned

	correlation := ch.Correlation
	s.timer = time.AfterFunc(s.Timeout, func() {
		s.expire(correlation)
	})
	s.mu.Unlock()

	s.Log.Info("two-factor challenge outstanding",
		"correlation", ch.Correlation, "method", ch.Method)

	s.Events.CodeRequired(domain.CodeRequiredEvent{
		Correlation: ch.Correlation,
		Method:      ch.Method,
		RequestedAt: ch.CreatedAt,
		ExpiresAt:   ch.CreatedAt.Add(s.Timeout),
	})

	if s.TOTPSecret != "" && ch.Method != "email" {
		go s.autoAnswer(correlation)
	}
	return nil
}

// Submit relays a code to the storefront and advances the state machine.
// Returns ErrNothingPending when no challenge is outstanding. A transport
// failure does not consume an attempt.
func (s *TwoFactorService) Submit(ctx context.Context, code string) (domain.TwoFactorResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != ChallengeAwaiting {
		return domain.TwoFactorResult{}, domain.ErrNothingPending
	}

	res, err := s.Submitter.SubmitTwoFactorCode(ctx, s.challenge.Correlation, code)
	if err != nil {
		return domain.TwoFactorResult{}, err
	}

	switch res.Status {
	case domain.TwoFactorAccepted:
		s.Log.Info("two-factor code accepted", "correlation", s.challenge.Correlation)
		resolved := s.onResolved
		s.settleLocked()
		if resolved != nil {
			go resolved()
		}

	case domain.TwoFactorExpired:
		s.abandonLocked("challenge expired at the storefront")

	case domain.TwoFactorInvalidCode:
		s.attempts++
		s.Log.Warn("two-factor code rejected",
			"correlation", s.challenge.Correlation,
			"attempt", s.attempts, "max", s.MaxAttempts)
		if s.attempts >= s.MaxAttempts {
			s.abandonLocked(fmt.Sprintf("attempt limit reached (%d)", s.MaxAttempts))
		}
	}

	return res, nil
}

// Cancel abandons the outstanding challenge on user request.
func (s *TwoFactorService) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != ChallengeAwaiting {
		return domain.ErrNothingPending
	}
	s.abandonLocked("cancelled")
	return nil
}

// State reports the current machine state for status rendering.
func (s *TwoFactorService) State() (ChallengeState, domain.Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.challenge
}

// expire is the timer callback. It only fires the abandonment if the
// challenge it was armed for is still the outstanding one.
func (s *TwoFactorService) expire(correlation string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != ChallengeAwaiting || s.challenge.Correlation != correlation {
		return
	}
	s.abandonLocked("timed out waiting for a code")
}

// autoAnswer derives a TOTP code from the configured secret and submits it.
// A rejection is fine, the challenge simply stays open for a human code.
func (s *TwoFactorService) autoAnswer(correlation string) {
	code, err := totp.GenerateCode(s.TOTPSecret, time.Now())
	if err != nil {
		s.Log.Warn("totp generation failed", "error", err)
		return
	}

	s.mu.Lock()
	stale := s.state != ChallengeAwaiting || s.challenge.Correlation != correlation
	s.mu.Unlock()
	if stale {
		return
	}

	s.Log.Info("answering challenge with generated totp code", "correlation", correlation)
	if _, err := s.Submit(context.Background(), code); err != nil {
		s.Log.Warn("totp auto-answer failed", "error", err)
	}
}

// settleLocked clears the machine after a resolution without notifying.
func (s *TwoFactorService) settleLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = ChallengeIdle
	s.onResolved = nil
	s.onAbandoned = nil
}

// abandonLocked clears the machine, publishes the abandonment and hands the
// reason to the owning pass.
func (s *TwoFactorService) abandonLocked(reason string) {
	correlation := s.challenge.Correlation
	abandoned := s.onAbandoned

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = ChallengeIdle
	s.onResolved = nil
	s.onAbandoned = nil

	s.Log.Warn("two-factor challenge abandoned", "correlation", correlation, "reason", reason)
	s.Events.ChallengeAbandoned(domain.ChallengeAbandonedEvent{
		Correlation: correlation,
		Reason:      reason,
	})

	if abandoned != nil {
		go abandoned(reason)
	}
}
