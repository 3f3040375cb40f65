package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Provider answers "what does the payment provider think happened to
// this order". The fulfillment sync job polls it for orders stuck
// pending, to cover missed or duplicated webhooks.
type Provider interface {
	CheckStatus(ctx context.Context, orderID string) (Status, string, error)
}

// Client is the HTTP implementation against the provider's transaction
// status API.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, apiKey string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	return &Client{http: c}
}

func (c *Client) CheckStatus(ctx context.Context, orderID string) (Status, string, error) {
	var out struct {
		OrderID       string `json:"order_id"`
		Status        string `json:"status"`
		TransactionID string `json:"transaction_id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/transactions/" + orderID)
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode() == 404 {
		// Provider never saw the order: treat as still pending, the
		// sweep will free the reservation.
		return StatusPending, "", nil
	}
	if !resp.IsSuccess() {
		return "", "", fmt.Errorf("provider status %d for order %s", resp.StatusCode(), orderID)
	}
	st, ok := Normalize(out.Status)
	if !ok {
		return "", "", fmt.Errorf("unknown provider status %q for order %s", out.Status, orderID)
	}
	return st, out.TransactionID, nil
}
