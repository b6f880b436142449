package storefront

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
	"github.com/aussiebroadwan/grabbit/pkg/httpx"
	"github.com/aussiebroadwan/grabbit/pkg/slogx"
)

type catalogResponse struct {
	Data struct {
		Catalog struct {
			Elements []catalogElement `json:"elements"`
		} `json:"catalog"`
	} `json:"data"`
}

type catalogElement struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Namespace string `json:"namespace"`
	URLSlug   string `json:"urlSlug"`
	FreeUntil string `json:"freeUntil"`
	Eligible  *bool  `json:"eligible"` // absent means claimable
	Price     struct {
		TotalPrice struct {
			DiscountPrice int64 `json:"discountPrice"`
		} `json:"totalPrice"`
	} `json:"price"`
}

// ListFreeItems returns the catalog entries currently offered at zero cost,
// in catalog order. Requires an authenticated session; a mid-call rejection
// surfaces as ErrAuthExpired so the next pass re-authenticates. There is
// no retry inside this call.
func (c *Client) ListFreeItems(ctx context.Context) ([]domain.FreeItem, error) {
	if c.sess.AccessToken == "" {
		return nil, domain.ErrNotAuthenticated
	}

	q := url.Values{}
	q.Set("locale", c.Locale)
	q.Set("country", c.Country)

	req, err := c.bearerRequest(ctx, http.MethodGet, c.Endpoints.FreeItems+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: free items: %v", domain.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		httpx.DrainClose(resp)
		return nil, domain.ErrAuthExpired
	case resp.StatusCode >= 300:
		httpx.DrainClose(resp)
		return nil, fmt.Errorf("%w: free items returned %d", domain.ErrUnavailable, resp.StatusCode)
	}

	var body catalogResponse
	if err := httpx.DecodeJSON(resp, &body); err != nil {
		return nil, err
	}

	log := slogx.FromContext(ctx)

	var items []domain.FreeItem
	for _, el := range body.Data.Catalog.Elements {
		if el.Price.TotalPrice.DiscountPrice != 0 {
			continue // discounted but not free
		}
		if el.ID == "" {
			log.Warn("skipping catalog element without id", "title", el.Title)
			continue
		}

		item := domain.FreeItem{
			ID:        el.ID,
			Title:     el.Title,
			Namespace: el.Namespace,
			Eligible:  el.Eligible == nil || *el.Eligible,
		}
		if el.URLSlug != "" {
			item.URL = "https://www.epicgames.com/store/" + c.Locale + "/p/" + el.URLSlug
		}
		if el.FreeUntil != "" {
			if t, err := time.Parse(time.RFC3339, el.FreeUntil); err == nil {
				item.FreeUntil = t
			}
		}
		items = append(items, item)
	}

	return items, nil
}
