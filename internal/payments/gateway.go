// Package payments wraps the platform's payment gateway. The gateway is an
// opaque, network-bound collaborator: this package owns request shaping,
// per-call timeouts and error classification, nothing about escrow policy.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type CheckoutParams struct {
	BookingID   uuid.UUID
	AmountCents int64
	Metadata    map[string]string
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type RefundParams struct {
	PaymentRef     string
	AmountCents    int64
	Reason         string
	IdempotencyKey string
}

type Refund struct {
	ID          string `json:"id"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
}

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)
	CreateRefund(ctx context.Context, p RefundParams) (*Refund, error)
}

// Client talks to the gateway over its REST surface. Every call is bounded
// by the configured timeout; refund calls carry the caller's idempotency key
// so a retried request cannot double-refund on the gateway side.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeout,
		http:    &http.Client{},
	}
}

func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	body := map[string]interface{}{
		"amount_cents": p.AmountCents,
		"metadata":     p.Metadata,
		"reference":    p.BookingID.String(),
	}
	var session CheckoutSession
	if err := c.post(ctx, "/v1/checkout/sessions", "", body, &session); err != nil {
		return nil, errors.Wrap(err, "create checkout session")
	}
	return &session, nil
}

func (c *Client) CreateRefund(ctx context.Context, p RefundParams) (*Refund, error) {
	body := map[string]interface{}{
		"payment_ref":  p.PaymentRef,
		"amount_cents": p.AmountCents,
		"reason":       p.Reason,
	}
	var refund Refund
	if err := c.post(ctx, "/v1/refunds", p.IdempotencyKey, body, &refund); err != nil {
		return nil, errors.Wrap(err, "create refund")
	}
	return &refund, nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
