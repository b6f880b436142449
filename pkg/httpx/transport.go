package httpx

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines the client-side rate limiting parameters for
// outbound calls. Storefront endpoints are quick to throttle or captcha
// accounts that hammer them, so every request goes through a limiter.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// DefaultStorefrontLimit keeps the client well under anything a storefront
// would consider abusive: 30 requests per minute with a small burst.
var DefaultStorefrontLimit = RateLimitConfig{
	RequestsPerWindow: 30,
	Window:            time.Minute,
	Burst:             5,
}

// Transport is an http.RoundTripper that rate-limits outbound requests and
// applies a fixed set of default headers. Wrap it around http.DefaultTransport
// (or a test transport) and hand it to an http.Client.
type Transport struct {
	Base    http.RoundTripper
	Limiter *rate.Limiter
	Headers map[string]string
}

// NewTransport builds a Transport from a rate limit config. A nil base falls
// back to http.DefaultTransport.
func NewTransport(base http.RoundTripper, cfg RateLimitConfig, headers map[string]string) *Transport {
	perSecond := float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()
	return &Transport{
		Base:    base,
		Limiter: rate.NewLimiter(rate.Limit(perSecond), cfg.Burst),
		Headers: headers,
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Limiter != nil {
		if err := t.Limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	// Clone before mutating headers; RoundTrippers must not modify the
	// caller's request.
	req = req.Clone(req.Context())
	for k, v := range t.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
