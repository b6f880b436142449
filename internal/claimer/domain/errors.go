package domain

import "errors"

// Shared error taxonomy. The storefront client and the orchestration
// services both speak these so callers can branch with errors.Is without
// caring which layer produced the failure.
var (
	// ErrAuthExpired means the storefront rejected a session mid-call.
	// Recoverable by re-authenticating once per pass.
	ErrAuthExpired = errors.New("storefront session expired")

	// ErrNotAuthenticated means an operation that requires a session was
	// called without one.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrUnavailable means the storefront could not be reached or answered
	// with a server error. Transient; the next trigger retries.
	ErrUnavailable = errors.New("storefront unavailable")

	// ErrBusy means a pass or challenge is already in progress. New
	// triggers are rejected, never queued.
	ErrBusy = errors.New("another run is already in progress")

	// ErrAuthRequired means a pass could not complete because the pending
	// two-factor challenge was abandoned or never resolved.
	ErrAuthRequired = errors.New("authentication required")

	// ErrNothingPending means a two-factor code arrived while no challenge
	// was outstanding. Ignored, but surfaced so the user sees it.
	ErrNothingPending = errors.New("no two-factor challenge pending")
)
