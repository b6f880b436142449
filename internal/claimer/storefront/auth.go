package storefront

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
	"github.com/aussiebroadwan/grabbit/pkg/httpx"
	"github.com/aussiebroadwan/grabbit/pkg/idx"
	"github.com/aussiebroadwan/grabbit/pkg/slogx"
)

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type loginResponse struct {
	TwoFactorRequired bool   `json:"twoFactorRequired"`
	Method            string `json:"method"`
	Challenge         string `json:"challenge"`
	ErrorCode         string `json:"errorCode"`
	Message           string `json:"message"`
}

type mfaRequest struct {
	Code           string `json:"code"`
	Method         string `json:"method"`
	Challenge      string `json:"challenge"`
	RememberDevice bool   `json:"rememberDevice"`
}

type redirectResponse struct {
	RedirectURL string `json:"redirectUrl"`
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ClientID     string `json:"client_id"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	AccountID    string `json:"account_id"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Authenticate brings the client into an authenticated state, cheapest path
// first: reuse the stored session after a validity probe, renew with the
// refresh token, and only then perform a full credential login. A
// two-factor challenge is reported as a result, never blocked on; the
// caller resumes via SubmitTwoFactorCode.
func (c *Client) Authenticate(ctx context.Context) (domain.AuthResult, error) {
	log := slogx.FromContext(ctx)

	if c.sess.Usable(c.now()) {
		ok, err := c.probe(ctx)
		if err != nil {
			return domain.AuthResult{}, err
		}
		if ok {
			return domain.AuthResult{Status: domain.AuthAuthenticated, Method: "session"}, nil
		}
		log.Info("stored session rejected by storefront, renewing")
	}

	if c.sess.Refreshable() {
		ok, err := c.refresh(ctx)
		if err != nil {
			return domain.AuthResult{}, err
		}
		if ok {
			return domain.AuthResult{Status: domain.AuthAuthenticated, Method: "refresh"}, nil
		}
		log.Info("refresh token rejected, falling back to credential login")
		c.dropSession(ctx)
	}

	return c.credentialLogin(ctx)
}

// probe performs the cheap validity check against the stored session.
// Returns false (not an error) when the storefront rejects the token.
func (c *Client) probe(ctx context.Context) (bool, error) {
	req, err := c.bearerRequest(ctx, http.MethodGet, c.Endpoints.Verify)
	if err != nil {
		return false, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: probe: %v", domain.ErrUnavailable, err)
	}
	defer httpx.DrainClose(resp)

	switch {
	case resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("%w: probe returned %d", domain.ErrUnavailable, resp.StatusCode)
	}
}

// refresh renews the session with the refresh-token grant. Returns false
// when the storefront rejected the refresh token.
func (c *Client) refresh(ctx context.Context) (bool, error) {
	resp, err := httpx.PostJSON(ctx, c.HTTP, c.Endpoints.Token, tokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: c.sess.RefreshToken,
		ClientID:     c.ClientID,
	})
	if err != nil {
		return false, fmt.Errorf("%w: refresh: %v", domain.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode < 300:
		var tok tokenResponse
		if err := httpx.DecodeJSON(resp, &tok); err != nil {
			return false, err
		}
		if err := c.adoptTokens(ctx, tok); err != nil {
			return false, err
		}
		return true, nil
	case resp.StatusCode >= 500:
		httpx.DrainClose(resp)
		return false, fmt.Errorf("%w: refresh returned %d", domain.ErrUnavailable, resp.StatusCode)
	default:
		httpx.DrainClose(resp)
		return false, nil
	}
}

// credentialLogin performs the full first-factor login. The storefront may
// answer with a two-factor challenge instead of a session.
func (c *Client) credentialLogin(ctx context.Context) (domain.AuthResult, error) {
	resp, err := httpx.PostJSON(ctx, c.HTTP, c.Endpoints.Login, loginRequest{
		Email:      c.Credentials.Email,
		Password:   c.Credentials.Password,
		RememberMe: true,
	})
	if err != nil {
		return domain.AuthResult{}, fmt.Errorf("%w: login: %v", domain.ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		httpx.DrainClose(resp)
		return domain.AuthResult{}, fmt.Errorf("%w: login returned %d", domain.ErrUnavailable, resp.StatusCode)
	}

	var body loginResponse
	if err := httpx.DecodeJSON(resp, &body); err != nil {
		return domain.AuthResult{}, err
	}

	if resp.StatusCode >= 400 {
		reason := body.Message
		if reason == "" {
			reason = fmt.Sprintf("login rejected with status %d", resp.StatusCode)
		}
		return domain.AuthResult{Status: domain.AuthFailed, Reason: reason}, nil
	}

	if body.TwoFactorRequired {
		correlation := body.Challenge
		if correlation == "" {
			// Some storefront responses omit the correlation token; mint
			// one locally so the coordinator state machine stays uniform.
			correlation = idx.New().String()
		}
		ch := domain.Challenge{
			Correlation: correlation,
			Method:      body.Method,
			CreatedAt:   c.now(),
		}
		c.pending = &ch
		return domain.AuthResult{Status: domain.AuthChallengeRequired, Challenge: ch}, nil
	}

	if err := c.completeRedirect(ctx); err != nil {
		return domain.AuthResult{}, err
	}
	return domain.AuthResult{Status: domain.AuthAuthenticated, Method: "login"}, nil
}

// SubmitTwoFactorCode exchanges the pending challenge plus code for a
// session. On acceptance the new session is persisted, replacing any prior
// one.
func (c *Client) SubmitTwoFactorCode(ctx context.Context, correlation, code string) (domain.TwoFactorResult, error) {
	if c.pending == nil || c.pending.Correlation != correlation {
		return domain.TwoFactorResult{
			Status: domain.TwoFactorExpired,
			Detail: "no matching challenge pending",
		}, nil
	}

	method := c.pending.Method
	if method == "" {
		method = "authenticator"
	}

	resp, err := httpx.PostJSON(ctx, c.HTTP, c.Endpoints.MFA, mfaRequest{
		Code:           code,
		Method:         method,
		Challenge:      correlation,
		RememberDevice: true,
	})
	if err != nil {
		return domain.TwoFactorResult{}, fmt.Errorf("%w: mfa: %v", domain.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode < 300:
		httpx.DrainClose(resp)
		if err := c.completeRedirect(ctx); err != nil {
			return domain.TwoFactorResult{}, err
		}
		c.pending = nil
		return domain.TwoFactorResult{Status: domain.TwoFactorAccepted}, nil
	case resp.StatusCode == http.StatusGone:
		httpx.DrainClose(resp)
		c.pending = nil
		return domain.TwoFactorResult{
			Status: domain.TwoFactorExpired,
			Detail: "challenge expired at the storefront",
		}, nil
	case resp.StatusCode >= 500:
		httpx.DrainClose(resp)
		return domain.TwoFactorResult{}, fmt.Errorf("%w: mfa returned %d", domain.ErrUnavailable, resp.StatusCode)
	default:
		httpx.DrainClose(resp)
		return domain.TwoFactorResult{Status: domain.TwoFactorInvalidCode}, nil
	}
}

// completeRedirect follows the post-login redirect to pick up the
// authorization code and exchanges it for session tokens.
func (c *Client) completeRedirect(ctx context.Context) error {
	resp, err := httpx.GetJSON(ctx, c.HTTP, c.Endpoints.Redirect)
	if err != nil {
		return fmt.Errorf("%w: redirect: %v", domain.ErrUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		httpx.DrainClose(resp)
		return fmt.Errorf("%w: redirect returned %d", domain.ErrUnavailable, resp.StatusCode)
	}

	var redir redirectResponse
	if err := httpx.DecodeJSON(resp, &redir); err != nil {
		return err
	}

	code, err := authorizationCodeFromURL(redir.RedirectURL)
	if err != nil {
		return err
	}

	tokResp, err := httpx.PostJSON(ctx, c.HTTP, c.Endpoints.Token, tokenRequest{
		GrantType: "authorization_code",
		Code:      code,
		ClientID:  c.ClientID,
	})
	if err != nil {
		return fmt.Errorf("%w: token exchange: %v", domain.ErrUnavailable, err)
	}
	if tokResp.StatusCode >= 300 {
		httpx.DrainClose(tokResp)
		return fmt.Errorf("%w: token exchange returned %d", domain.ErrUnavailable, tokResp.StatusCode)
	}

	var tok tokenResponse
	if err := httpx.DecodeJSON(tokResp, &tok); err != nil {
		return err
	}
	return c.adoptTokens(ctx, tok)
}

// adoptTokens turns a token response into the active, persisted session.
func (c *Client) adoptTokens(ctx context.Context, tok tokenResponse) error {
	if tok.AccessToken == "" {
		return fmt.Errorf("token response missing access_token")
	}

	ttl := defaultSessionTTL
	if tok.ExpiresIn > 0 {
		ttl = time.Duration(tok.ExpiresIn) * time.Second
	}

	accountID := tok.AccountID
	if accountID == "" {
		accountID = c.sess.AccountID
	}

	return c.persistSession(ctx, domain.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		AccountID:    accountID,
		ExpiresAt:    c.now().Add(ttl),
	})
}

func authorizationCodeFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse redirect url: %w", err)
	}
	code := u.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("redirect url carries no authorization code")
	}
	return code, nil
}
