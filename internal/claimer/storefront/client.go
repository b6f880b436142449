// Package storefront wraps the authenticated HTTP conversation with the
// storefront web API: login, two-factor challenge handling, free-catalog
// lookup and claim submission. Expected login outcomes are tagged results,
// not errors; only transport failures surface as Go errors.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
	"github.com/aussiebroadwan/grabbit/internal/claimer/store"
)

// DefaultClientID is the storefront's public web client id used for the
// OAuth token exchanges.
const DefaultClientID = "875a3b57d3a640a6b7f9b4e883463ab4"

// defaultSessionTTL is assumed when a token response omits expires_in.
const defaultSessionTTL = 8 * time.Hour

// Credentials are the account's first factor.
type Credentials struct {
	Email    string
	Password string
}

// Endpoints holds the absolute URLs of the storefront API surface.
type Endpoints struct {
	Login     string // credential login
	MFA       string // two-factor code submission
	Redirect  string // post-login redirect yielding the authorization code
	Token     string // OAuth token exchange / refresh
	Verify    string // cheap session validity probe
	FreeItems string // current free catalog entries
	GraphQL   string // claim (purchase order) mutations
}

// DefaultEndpoints returns the production storefront URLs.
func DefaultEndpoints() Endpoints {
	return EndpointsAt("https://www.epicgames.com")
}

// EndpointsAt roots every endpoint under one base URL. Used by tests and by
// the GRABBIT_STOREFRONT_URL override.
func EndpointsAt(base string) Endpoints {
	return Endpoints{
		Login:     base + "/id/api/login",
		MFA:       base + "/id/api/login/mfa",
		Redirect:  base + "/id/api/redirect",
		Token:     base + "/id/api/oauth/token",
		Verify:    base + "/id/api/authenticate",
		FreeItems: base + "/api/content/free-items",
		GraphQL:   base + "/graphql",
	}
}

// Client drives the storefront conversation for a single account. It owns
// the Session exclusively: loaded once at construction, persisted to the
// store after every successful (re)login, replaced when the storefront
// rejects it.
//
// Client is not safe for concurrent use; the orchestrator's single-active-
// pass guard ensures calls never overlap.
type Client struct {
	HTTP        *http.Client
	Store       store.Store
	Account     string
	Credentials Credentials
	Endpoints   Endpoints
	ClientID    string
	Country     string
	Locale      string

	sess    domain.Session
	pending *domain.Challenge

	now func() time.Time
}

// New builds a Client and loads any previously persisted session for the
// account. A missing session is fine, the first pass will log in.
func New(st store.Store, account string, creds Credentials, ep Endpoints, httpClient *http.Client) (*Client, error) {
	c := &Client{
		HTTP:        httpClient,
		Store:       st,
		Account:     account,
		Credentials: creds,
		Endpoints:   ep,
		ClientID:    DefaultClientID,
		Country:     "US",
		Locale:      "en-US",
		now:         time.Now,
	}

	sess, err := st.Sessions().GetSession(context.Background(), account)
	switch {
	case err == nil:
		c.sess = sess
	case errors.Is(err, store.ErrNotFound):
		// first run, nothing stored yet
	default:
		return nil, fmt.Errorf("load session: %w", err)
	}

	return c, nil
}

// Session returns a copy of the in-memory session. Mostly for status
// reporting; callers must not rely on it staying valid.
func (c *Client) Session() domain.Session {
	return c.sess
}

// persistSession atomically replaces the stored session with s and adopts
// it in memory.
func (c *Client) persistSession(ctx context.Context, s domain.Session) error {
	if err := c.Store.Sessions().PutSession(ctx, c.Account, s); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	c.sess = s
	return nil
}

// dropSession forgets the in-memory and stored session after the
// storefront revoked it.
func (c *Client) dropSession(ctx context.Context) {
	c.sess = domain.Session{}
	_ = c.Store.Sessions().DeleteSession(ctx, c.Account)
}

// bearerRequest builds a request carrying the current access token.
func (c *Client) bearerRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.sess.AccessToken)
	return req, nil
}
