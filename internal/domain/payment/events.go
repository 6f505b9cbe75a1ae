package payment

import "github.com/minicart/fulfillment/internal/domain/order"

// Event is the closed set of webhook event kinds the reconciler understands.
// Unknown kinds decode into UnknownEvent and are acknowledged without side
// effects instead of crashing the handler.
type Event interface {
	Kind() string
	Session() string
}

// CheckoutCompleted carries the verified snapshot of what was paid for. The
// snapshot, not any client request, is the source of truth for the order.
type CheckoutCompleted struct {
	SessionID       string           `json:"session_id"`
	BuyerID         string           `json:"buyer_id"`
	Items           []order.LineItem `json:"items"`
	AmountTotal     int64            `json:"amount_total"`
	CustomerEmail   string           `json:"customer_email"`
	ShippingAddress string           `json:"shipping_address"`
}

func (CheckoutCompleted) Kind() string      { return "checkout.completed" }
func (e CheckoutCompleted) Session() string { return e.SessionID }

// CheckoutExpired signals an abandoned session; nothing was charged and
// nothing is recorded.
type CheckoutExpired struct {
	SessionID string `json:"session_id"`
}

func (CheckoutExpired) Kind() string      { return "checkout.expired" }
func (e CheckoutExpired) Session() string { return e.SessionID }

// UnknownEvent preserves the raw type of an unrecognized delivery for logging.
type UnknownEvent struct {
	Type      string
	SessionID string
}

func (e UnknownEvent) Kind() string    { return e.Type }
func (e UnknownEvent) Session() string { return e.SessionID }
