package storefront_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
	"github.com/aussiebroadwan/grabbit/internal/claimer/storefront"
	"github.com/aussiebroadwan/grabbit/internal/claimer/store/drivers/sqlite"
	"github.com/aussiebroadwan/grabbit/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

const account = "player@example.com"

// fakeStorefront is a scriptable stand-in for the storefront web API.
type fakeStorefront struct {
	t *testing.T

	twoFactorRequired bool
	challenge         string
	validCode         string
	acceptedToken     string // bearer token the verify/catalog/claim endpoints accept
	catalogJSON       string
	orderComplete     bool
	orderError        string
	loginStatus       int // 0 means 200
	failAll           int // when non-zero every endpoint answers with this status

	loginCalls   int
	refreshCalls int
	claimCalls   int
}

func (f *fakeStorefront) server() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/id/api/authenticate", func(w http.ResponseWriter, r *http.Request) {
		if f.failAll != 0 {
			w.WriteHeader(f.failAll)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+f.acceptedToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"accountId": "acct-1"})
	})

	mux.HandleFunc("/id/api/login", func(w http.ResponseWriter, r *http.Request) {
		f.loginCalls++
		if f.failAll != 0 {
			w.WriteHeader(f.failAll)
			return
		}
		if f.loginStatus != 0 {
			w.WriteHeader(f.loginStatus)
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "invalid credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"twoFactorRequired": f.twoFactorRequired,
			"method":            "authenticator",
			"challenge":         f.challenge,
		})
	})

	mux.HandleFunc("/id/api/login/mfa", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Code      string `json:"code"`
			Challenge string `json:"challenge"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Challenge != f.challenge || body.Code != f.validCode {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/id/api/redirect", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"redirectUrl": "https://store.example/?code=auth-code-1",
		})
	})

	mux.HandleFunc("/id/api/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			GrantType    string `json:"grant_type"`
			RefreshToken string `json:"refresh_token"`
			Code         string `json:"code"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		switch body.GrantType {
		case "refresh_token":
			f.refreshCalls++
			if body.RefreshToken != "refresh-ok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		case "authorization_code":
			if body.Code != "auth-code-1" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  f.acceptedToken,
			"refresh_token": "refresh-ok",
			"account_id":    "acct-1",
			"expires_in":    28800,
		})
	})

	mux.HandleFunc("/api/content/free-items", func(w http.ResponseWriter, r *http.Request) {
		if f.failAll != 0 {
			w.WriteHeader(f.failAll)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+f.acceptedToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(f.catalogJSON))
	})

	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		f.claimCalls++
		if f.failAll != 0 {
			w.WriteHeader(f.failAll)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+f.acceptedToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"purchaseOrder": map[string]any{
					"orderResponse": map[string]any{
						"orderComplete": f.orderComplete,
						"orderError":    f.orderError,
						"orderNumber":   "order-1",
					},
				},
			},
		})
	})

	srv := httptest.NewServer(mux)
	f.t.Cleanup(srv.Close)
	return srv
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	cryptox.ResetMasterKeyForTesting()
	t.Setenv("GRABBIT_MASTER_KEY", "storefront-test-key")

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())
	return st
}

func newTestClient(t *testing.T, f *fakeStorefront, st *sqlite.Store) *storefront.Client {
	t.Helper()

	srv := f.server()
	c, err := storefront.New(st, account,
		storefront.Credentials{Email: account, Password: "hunter2"},
		storefront.EndpointsAt(srv.URL), srv.Client())
	require.NoError(t, err)
	return c
}

func TestAuthenticateReusesStoredSession(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Sessions().PutSession(context.Background(), account, domain.Session{
		AccessToken:  "token-live",
		RefreshToken: "refresh-ok",
		ExpiresAt:    time.Now().Add(4 * time.Hour),
	}))

	f := &fakeStorefront{t: t, acceptedToken: "token-live"}
	c := newTestClient(t, f, st)

	res, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.AuthAuthenticated, res.Status)
	require.Equal(t, "session", res.Method)
	require.Zero(t, f.loginCalls, "a valid stored session must not trigger a login")
}

func TestAuthenticateRefreshesStaleSession(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Sessions().PutSession(context.Background(), account, domain.Session{
		AccessToken:  "token-stale",
		RefreshToken: "refresh-ok",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}))

	f := &fakeStorefront{t: t, acceptedToken: "token-fresh"}
	c := newTestClient(t, f, st)

	res, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.AuthAuthenticated, res.Status)
	require.Equal(t, "refresh", res.Method)
	require.Equal(t, 1, f.refreshCalls)
	require.Zero(t, f.loginCalls)

	// The renewed session must have been persisted.
	sess, err := st.Sessions().GetSession(context.Background(), account)
	require.NoError(t, err)
	require.Equal(t, "token-fresh", sess.AccessToken)
}

func TestAuthenticateFullLogin(t *testing.T) {
	st := newTestStore(t)
	f := &fakeStorefront{t: t, acceptedToken: "token-login"}
	c := newTestClient(t, f, st)

	res, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.AuthAuthenticated, res.Status)
	require.Equal(t, "login", res.Method)
	require.Equal(t, 1, f.loginCalls)

	sess, err := st.Sessions().GetSession(context.Background(), account)
	require.NoError(t, err)
	require.Equal(t, "token-login", sess.AccessToken)
	require.Equal(t, "acct-1", sess.AccountID)
}

func TestAuthenticateBadCredentials(t *testing.T) {
	st := newTestStore(t)
	f := &fakeStorefront{t: t, loginStatus: http.StatusUnauthorized}
	c := newTestClient(t, f, st)

	res, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.AuthFailed, res.Status)
	require.Contains(t, res.Reason, "invalid credentials")
}

func TestAuthenticateStorefrontDown(t *testing.T) {
	st := newTestStore(t)
	f := &fakeStorefront{t: t, failAll: http.StatusBadGateway}
	c := newTestClient(t, f, st)

	_, err := c.Authenticate(context.Background())
	require.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestTwoFactorChallengeFlow(t *testing.T) {
	st := newTestStore(t)
	f := &fakeStorefront{
		t:                 t,
		twoFactorRequired: true,
		challenge:         "c1",
		validCode:         "123456",
		acceptedToken:     "token-2fa",
	}
	c := newTestClient(t, f, st)
	ctx := context.Background()

	res, err := c.Authenticate(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.AuthChallengeRequired, res.Status)
	require.Equal(t, "c1", res.Challenge.Correlation)
	require.Equal(t, "authenticator", res.Challenge.Method)

	// Wrong code is rejected but the challenge stays pending.
	tf, err := c.SubmitTwoFactorCode(ctx, "c1", "000000")
	require.NoError(t, err)
	require.Equal(t, domain.TwoFactorInvalidCode, tf.Status)

	// Right code completes the exchange and persists the session.
	tf, err = c.SubmitTwoFactorCode(ctx, "c1", "123456")
	require.NoError(t, err)
	require.Equal(t, domain.TwoFactorAccepted, tf.Status)

	sess, err := st.Sessions().GetSession(ctx, account)
	require.NoError(t, err)
	require.Equal(t, "token-2fa", sess.AccessToken)

	// Once resolved the correlation no longer matches anything.
	tf, err = c.SubmitTwoFactorCode(ctx, "c1", "123456")
	require.NoError(t, err)
	require.Equal(t, domain.TwoFactorExpired, tf.Status)
}

func TestSubmitCodeWithoutChallenge(t *testing.T) {
	st := newTestStore(t)
	f := &fakeStorefront{t: t}
	c := newTestClient(t, f, st)

	tf, err := c.SubmitTwoFactorCode(context.Background(), "c1", "123456")
	require.NoError(t, err)
	require.Equal(t, domain.TwoFactorExpired, tf.Status)
}

const testCatalog = `{
	"data": {"catalog": {"elements": [
		{"id": "game-a", "title": "Game A", "namespace": "ns-a", "urlSlug": "game-a",
		 "price": {"totalPrice": {"discountPrice": 0}}},
		{"id": "game-b", "title": "Game B", "namespace": "ns-b",
		 "freeUntil": "2030-01-02T15:04:05Z",
		 "price": {"totalPrice": {"discountPrice": 0}}},
		{"id": "game-c", "title": "Not Free", "namespace": "ns-c",
		 "price": {"totalPrice": {"discountPrice": 499}}},
		{"id": "game-d", "title": "Locked", "namespace": "ns-d", "eligible": false,
		 "price": {"totalPrice": {"discountPrice": 0}}}
	]}}
}`

func TestListFreeItems(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Sessions().PutSession(context.Background(), account, domain.Session{
		AccessToken: "token-live",
		ExpiresAt:   time.Now().Add(4 * time.Hour),
	}))

	f := &fakeStorefront{t: t, acceptedToken: "token-live", catalogJSON: testCatalog}
	c := newTestClient(t, f, st)

	items, err := c.ListFreeItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3, "non-free entries are filtered out")

	require.Equal(t, "game-a", items[0].ID)
	require.True(t, items[0].Eligible)
	require.Contains(t, items[0].URL, "game-a")

	require.Equal(t, "game-b", items[1].ID)
	require.Equal(t, 2030, items[1].FreeUntil.Year())

	require.Equal(t, "game-d", items[2].ID)
	require.False(t, items[2].Eligible)
}

func TestListFreeItemsAuthExpired(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Sessions().PutSession(context.Background(), account, domain.Session{
		AccessToken: "token-revoked",
		ExpiresAt:   time.Now().Add(4 * time.Hour),
	}))

	f := &fakeStorefront{t: t, acceptedToken: "token-live", catalogJSON: testCatalog}
	c := newTestClient(t, f, st)

	_, err := c.ListFreeItems(context.Background())
	require.ErrorIs(t, err, domain.ErrAuthExpired)
}

func TestListFreeItemsRequiresSession(t *testing.T) {
	st := newTestStore(t)
	f := &fakeStorefront{t: t}
	c := newTestClient(t, f, st)

	_, err := c.ListFreeItems(context.Background())
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func claimClient(t *testing.T, f *fakeStorefront) *storefront.Client {
	t.Helper()

	st := newTestStore(t)
	require.NoError(t, st.Sessions().PutSession(context.Background(), account, domain.Session{
		AccessToken: f.acceptedToken,
		ExpiresAt:   time.Now().Add(4 * time.Hour),
	}))
	return newTestClient(t, f, st)
}

func TestClaimComplete(t *testing.T) {
	f := &fakeStorefront{t: t, acceptedToken: "tok", orderComplete: true}
	c := claimClient(t, f)

	res, err := c.Claim(context.Background(), domain.FreeItem{ID: "game-a", Namespace: "ns-a"})
	require.NoError(t, err)
	require.Equal(t, domain.ClaimStatusClaimed, res.Status)
	require.Equal(t, 1, f.claimCalls)
}

func TestClaimAlreadyOwned(t *testing.T) {
	f := &fakeStorefront{t: t, acceptedToken: "tok", orderError: "ERROR_ALREADY_OWNED"}
	c := claimClient(t, f)

	res, err := c.Claim(context.Background(), domain.FreeItem{ID: "game-a", Namespace: "ns-a"})
	require.NoError(t, err)
	require.Equal(t, domain.ClaimStatusAlreadyOwned, res.Status)
}

func TestClaimPermanentFailure(t *testing.T) {
	f := &fakeStorefront{t: t, acceptedToken: "tok", orderError: "REGION_LOCKED"}
	c := claimClient(t, f)

	res, err := c.Claim(context.Background(), domain.FreeItem{ID: "game-a", Namespace: "ns-a"})
	require.NoError(t, err)
	require.Equal(t, domain.ClaimStatusFailed, res.Status)
	require.False(t, res.Retryable)
}

func TestClaimRetryableFailure(t *testing.T) {
	f := &fakeStorefront{t: t, acceptedToken: "tok", orderError: "SERVICE_FLAKY"}
	c := claimClient(t, f)

	res, err := c.Claim(context.Background(), domain.FreeItem{ID: "game-a", Namespace: "ns-a"})
	require.NoError(t, err)
	require.Equal(t, domain.ClaimStatusFailed, res.Status)
	require.True(t, res.Retryable)
}

func TestClaimUnconfirmedOrderIsRetryable(t *testing.T) {
	f := &fakeStorefront{t: t, acceptedToken: "tok"} // neither complete nor error
	c := claimClient(t, f)

	res, err := c.Claim(context.Background(), domain.FreeItem{ID: "game-a", Namespace: "ns-a"})
	require.NoError(t, err)
	require.Equal(t, domain.ClaimStatusFailed, res.Status)
	require.True(t, res.Retryable)
}

func TestClaimAuthExpired(t *testing.T) {
	f := &fakeStorefront{t: t, acceptedToken: "tok-other", orderComplete: true}
	st := newTestStore(t)
	require.NoError(t, st.Sessions().PutSession(context.Background(), account, domain.Session{
		AccessToken: "tok-revoked",
		ExpiresAt:   time.Now().Add(4 * time.Hour),
	}))
	c := newTestClient(t, f, st)

	_, err := c.Claim(context.Background(), domain.FreeItem{ID: "game-a", Namespace: "ns-a"})
	require.ErrorIs(t, err, domain.ErrAuthExpired)
}
