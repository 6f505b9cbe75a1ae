package notification

import (
	"context"
	"time"

	"github.com/minicart/fulfillment/internal/domain/order"
)

// Receipt is the confirmation document synthesized after a paid order is
// durably recorded. Rendering and delivery are owned by an external service;
// this subsystem only dispatches the document.
type Receipt struct {
	OrderID       string           `json:"order_id"`
	BuyerID       string           `json:"buyer_id"`
	CustomerEmail string           `json:"customer_email"`
	Items         []order.LineItem `json:"items"`
	TotalAmount   int64            `json:"total_amount"`
	IssuedAt      time.Time        `json:"issued_at"`
}

func NewReceipt(o *order.Order) Receipt {
	return Receipt{
		OrderID:       o.ID,
		BuyerID:       o.BuyerID,
		CustomerEmail: o.CustomerEmail,
		Items:         append([]order.LineItem(nil), o.Items...),
		TotalAmount:   o.TotalAmount,
		IssuedAt:      time.Now().UTC(),
	}
}

// Dispatcher hands the receipt to the delivery collaborator. Failures are
// non-blocking for the order: the money has moved and the order stands.
type Dispatcher interface {
	SendReceipt(ctx context.Context, r Receipt) error
}
