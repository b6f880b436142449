package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
	"github.com/aussiebroadwan/grabbit/pkg/httpx"
)

const purchaseOrderMutation = `
mutation purchaseOrderMutation($orderPurchaseParams: OrderPurchaseParams!) {
	purchaseOrder(orderPurchaseParams: $orderPurchaseParams) {
		orderResponse {
			orderResponseCode
			orderNumber
			orderComplete
			orderError
		}
	}
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type purchaseOrderResponse struct {
	Data struct {
		PurchaseOrder struct {
			OrderResponse struct {
				OrderResponseCode string `json:"orderResponseCode"`
				OrderNumber       string `json:"orderNumber"`
				OrderComplete     bool   `json:"orderComplete"`
				OrderError        string `json:"orderError"`
			} `json:"orderResponse"`
		} `json:"purchaseOrder"`
	} `json:"data"`
}

// permanentOrderErrors are storefront rejections that no amount of retrying
// will fix. Everything else stays retryable so the next pass has a shot.
var permanentOrderErrors = []string{
	"INELIGIBLE",
	"REGION_LOCKED",
	"OFFER_NOT_FOUND",
}

// Claim submits a zero-cost purchase order for the item. Outcomes are
// encoded in the result: a storefront-side "already owned" is success for
// ledger purposes, and transient transport trouble is a retryable failure
// rather than a pass-aborting error. Only a rejected session surfaces as
// ErrAuthExpired.
func (c *Client) Claim(ctx context.Context, item domain.FreeItem) (domain.ClaimResult, error) {
	if c.sess.AccessToken == "" {
		return domain.ClaimResult{}, domain.ErrNotAuthenticated
	}

	payload := graphqlRequest{
		Query: purchaseOrderMutation,
		Variables: map[string]any{
			"orderPurchaseParams": map[string]any{
				"productId": item.ID,
				"offerId":   item.ID,
				"namespace": item.Namespace,
				"quantity":  1,
				"currency":  "USD",
				"lineOffers": []map[string]any{
					{"offerId": item.ID, "quantity": 1},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("encode claim request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoints.GraphQL, bytes.NewReader(body))
	if err != nil {
		return domain.ClaimResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.sess.AccessToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return retryableFailure(fmt.Sprintf("storefront unreachable: %v", err)), nil
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		httpx.DrainClose(resp)
		return domain.ClaimResult{}, domain.ErrAuthExpired
	case resp.StatusCode >= 300:
		httpx.DrainClose(resp)
		return retryableFailure(fmt.Sprintf("claim returned status %d", resp.StatusCode)), nil
	}

	var order purchaseOrderResponse
	if err := httpx.DecodeJSON(resp, &order); err != nil {
		return retryableFailure(fmt.Sprintf("malformed claim response: %v", err)), nil
	}

	or := order.Data.PurchaseOrder.OrderResponse
	switch {
	case or.OrderComplete:
		return domain.ClaimResult{Status: domain.ClaimStatusClaimed, Detail: or.OrderNumber}, nil

	case isAlreadyOwned(or.OrderError):
		return domain.ClaimResult{Status: domain.ClaimStatusAlreadyOwned, Detail: or.OrderError}, nil

	case or.OrderError != "":
		return domain.ClaimResult{
			Status:    domain.ClaimStatusFailed,
			Retryable: !isPermanentOrderError(or.OrderError),
			Detail:    or.OrderError,
		}, nil

	default:
		// Order neither completed nor errored: the storefront may have
		// accepted it without confirming. Conservatively retryable; the
		// next pass re-checks and an accepted order just comes back as
		// already owned.
		return retryableFailure("order did not confirm"), nil
	}
}

func retryableFailure(detail string) domain.ClaimResult {
	return domain.ClaimResult{
		Status:    domain.ClaimStatusFailed,
		Retryable: true,
		Detail:    detail,
	}
}

func isAlreadyOwned(orderError string) bool {
	up := strings.ToUpper(orderError)
	return strings.Contains(up, "OWNED") || strings.Contains(up, "ALREADY")
}

func isPermanentOrderError(orderError string) bool {
	up := strings.ToUpper(orderError)
	for _, code := range permanentOrderErrors {
		if strings.Contains(up, code) {
			return true
		}
	}
	return false
}
