package domain

import "time"

// Challenge is a pending second-factor requirement reported by the
// storefront during a credential login. It lives only between "login
// returned a challenge" and "code accepted or attempt abandoned".
type Challenge struct {
	// Correlation is the storefront-issued token tying the code submission
	// back to the login attempt. When the storefront doesn't issue one, a
	// locally minted ULID stands in so the coordinator state machine stays
	// uniform.
	Correlation string
	// Method is the second factor the storefront asked for,
	// e.g. "email" or "authenticator".
	Method    string
	CreatedAt time.Time
}

type AuthStatus string

const (
	AuthAuthenticated     AuthStatus = "authenticated"
	AuthChallengeRequired AuthStatus = "challenge_required"
	AuthFailed            AuthStatus = "failed"
)

// AuthResult is the tagged result of an authenticate attempt. Expected
// control-flow outcomes (a challenge, bad credentials) are values here, not
// errors; only transport-level failures surface as Go errors.
type AuthResult struct {
	Status    AuthStatus
	Method    string    // how we got authenticated: "session", "refresh", "login", "two_factor"
	Challenge Challenge // set when Status is AuthChallengeRequired
	Reason    string    // set when Status is AuthFailed
}

type TwoFactorStatus string

const (
	TwoFactorAccepted    TwoFactorStatus = "accepted"
	TwoFactorInvalidCode TwoFactorStatus = "invalid_code"
	TwoFactorExpired     TwoFactorStatus = "expired"
)

// TwoFactorResult is the tagged result of exchanging a challenge plus code
// for a session.
type TwoFactorResult struct {
	Status TwoFactorStatus
	Detail string
}
