package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/minicart/fulfillment/internal/domain/order"
	"github.com/minicart/fulfillment/internal/domain/payment"
)

// Fake stands in for the hosted provider so the full checkout loop runs
// locally without an account. It issues session ids, remembers each
// session's snapshot, and can mint correctly signed completion events.
type Fake struct {
	webhookSecret string

	mu       sync.Mutex
	sessions map[string]payment.SessionInput
}

func NewFake(webhookSecret string) *Fake {
	return &Fake{
		webhookSecret: webhookSecret,
		sessions:      make(map[string]payment.SessionInput),
	}
}

func (f *Fake) CreateSession(ctx context.Context, in payment.SessionInput) (string, error) {
	_ = ctx
	sessionID := "sess_" + uuid.NewString()

	f.mu.Lock()
	f.sessions[sessionID] = in
	f.mu.Unlock()

	return sessionID, nil
}

func (f *Fake) VerifyEvent(payload []byte, signature string) (payment.Event, error) {
	if err := VerifySignature(f.webhookSecret, payload, signature, time.Now()); err != nil {
		return nil, err
	}
	return decodeEvent(payload)
}

// CompleteSession builds the signed webhook delivery the provider would send
// once the buyer pays. It returns the raw body and signature header.
func (f *Fake) CompleteSession(sessionID, email, shippingAddress string) ([]byte, string, error) {
	f.mu.Lock()
	in, ok := f.sessions[sessionID]
	f.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("gateway: unknown session %s", sessionID)
	}

	items := make([]order.LineItem, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, order.LineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	data, err := json.Marshal(payment.CheckoutCompleted{
		SessionID:       sessionID,
		BuyerID:         in.BuyerID,
		Items:           items,
		AmountTotal:     in.Total,
		CustomerEmail:   email,
		ShippingAddress: shippingAddress,
	})
	if err != nil {
		return nil, "", err
	}

	body, err := json.Marshal(eventEnvelope{
		Type:      payment.CheckoutCompleted{}.Kind(),
		SessionID: sessionID,
		Data:      data,
	})
	if err != nil {
		return nil, "", err
	}

	return body, Sign(f.webhookSecret, time.Now(), body), nil
}
