package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/minicart/fulfillment/internal/domain/payment"
)

// Client talks to the hosted payment provider over HTTP. The item snapshot
// is serialized into session metadata; the provider echoes it back unchanged
// on the completion event, making the event self-contained.
type Client struct {
	http          *resty.Client
	webhookSecret string
}

type sessionRequest struct {
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
	Amount     int64  `json:"amount"`
	Metadata   string `json:"metadata"`
}

type sessionResponse struct {
	ID string `json:"id"`
}

type sessionMetadata struct {
	BuyerID string          `json:"buyer_id"`
	Items   json.RawMessage `json:"items"`
	Total   int64           `json:"total"`
}

func NewClient(baseURL, apiKey, webhookSecret string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(10 * time.Second)

	return &Client{http: http, webhookSecret: webhookSecret}
}

func (c *Client) CreateSession(ctx context.Context, in payment.SessionInput) (string, error) {
	items, err := json.Marshal(in.Items)
	if err != nil {
		return "", fmt.Errorf("gateway: marshal items snapshot: %w", err)
	}
	metadata, err := json.Marshal(sessionMetadata{BuyerID: in.BuyerID, Items: items, Total: in.Total})
	if err != nil {
		return "", fmt.Errorf("gateway: marshal metadata: %w", err)
	}

	var out sessionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sessionRequest{
			SuccessURL: in.SuccessURL,
			CancelURL:  in.CancelURL,
			Amount:     in.Total,
			Metadata:   string(metadata),
		}).
		SetResult(&out).
		Post("/v1/checkout/sessions")
	if err != nil {
		return "", fmt.Errorf("%w: %w", payment.ErrSessionCreate, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: provider responded %s", payment.ErrSessionCreate, resp.Status())
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: provider returned no session id", payment.ErrSessionCreate)
	}
	return out.ID, nil
}

func (c *Client) VerifyEvent(payload []byte, signature string) (payment.Event, error) {
	if err := VerifySignature(c.webhookSecret, payload, signature, time.Now()); err != nil {
		return nil, err
	}
	return decodeEvent(payload)
}
