package domain

import "time"

type ClaimStatus string

const (
	// ClaimStatusClaimed means the storefront accepted the claim.
	ClaimStatusClaimed ClaimStatus = "claimed"
	// ClaimStatusAlreadyOwned means the storefront reported the item as
	// already on the account. Treated as success for ledger purposes.
	ClaimStatusAlreadyOwned ClaimStatus = "already_owned"
	// ClaimStatusFailed means the claim was rejected or errored.
	ClaimStatusFailed ClaimStatus = "failed"
	// ClaimStatusEligible is only produced by report-only passes: the item
	// would be claimed by a full pass but nothing was submitted.
	ClaimStatusEligible ClaimStatus = "eligible"
)

// ClaimResult is the storefront client's answer to a single claim call.
type ClaimResult struct {
	Status    ClaimStatus
	Retryable bool // only meaningful when Status is failed
	Detail    string
}

// ClaimOutcome is the per-item result of one orchestration pass.
type ClaimOutcome struct {
	ItemID    string      `json:"item_id"`
	Title     string      `json:"title"`
	Status    ClaimStatus `json:"status"`
	Retryable bool        `json:"retryable,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// LedgerEntry records that an item has been claimed for the account.
// Presence of the item id is the sole idempotence authority: an id in the
// ledger is never re-submitted for claiming.
type LedgerEntry struct {
	ItemID    string
	Title     string
	ClaimedAt time.Time
}
