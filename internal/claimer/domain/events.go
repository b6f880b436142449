package domain

import "time"

// TriggerKind says what started an orchestration pass.
type TriggerKind string

const (
	TriggerScheduled   TriggerKind = "scheduled"
	TriggerStartup     TriggerKind = "startup"
	TriggerManualCheck TriggerKind = "manual_check"
	TriggerManualClaim TriggerKind = "manual_claim"
)

// RunReport is the terminal signal of one orchestration pass, scheduled or
// manual. Every triggered pass produces exactly one of these, even when it
// fails. The notifier renders it, the core never formats text itself.
type RunReport struct {
	PassID     string         `json:"pass_id"`
	Trigger    TriggerKind    `json:"trigger"`
	CheckOnly  bool           `json:"check_only"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Outcomes   []ClaimOutcome `json:"outcomes"`
	AuthEvents []string       `json:"auth_events,omitempty"`
	Err        string         `json:"error,omitempty"`
}

// Claimed returns the outcomes that ended in the ledger.
func (r RunReport) Claimed() []ClaimOutcome {
	var out []ClaimOutcome
	for _, o := range r.Outcomes {
		if o.Status == ClaimStatusClaimed || o.Status == ClaimStatusAlreadyOwned {
			out = append(out, o)
		}
	}
	return out
}

// Failed returns the outcomes that did not make it into the ledger.
func (r RunReport) Failed() []ClaimOutcome {
	var out []ClaimOutcome
	for _, o := range r.Outcomes {
		if o.Status == ClaimStatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// CodeRequiredEvent is published when a login attempt hit a two-factor
// challenge and a human (or the TOTP auto-responder) must supply a code.
type CodeRequiredEvent struct {
	Correlation string    `json:"correlation"`
	Method      string    `json:"method"`
	RequestedAt time.Time `json:"requested_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ChallengeAbandonedEvent is published when an outstanding challenge timed
// out, ran out of attempts, or was cancelled.
type ChallengeAbandonedEvent struct {
	Correlation string `json:"correlation"`
	Reason      string `json:"reason"`
}
