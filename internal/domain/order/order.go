package order

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("order: not found")
	ErrConflict        = errors.New("order: already exists")
	ErrNoItems         = errors.New("order: at least one line item is required")
	ErrInvalidQuantity = errors.New("order: quantity must be greater than zero")
	ErrInvalidAmount   = errors.New("order: amount must be zero or greater")
	ErrMissingSession  = errors.New("order: source session id is required")
)

type PaymentStatus string

const (
	PaymentStatusPaid   PaymentStatus = "paid"
	PaymentStatusFailed PaymentStatus = "failed"
)

// LineItem is a denormalized snapshot of what was paid for. The product may
// later be deleted from the catalog; the order must stay readable.
type LineItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// StockAnomaly records a post-payment decrement that could not be applied in
// full. The order proceeds regardless; the anomaly is kept for operator review.
type StockAnomaly struct {
	ProductID string `json:"product_id"`
	Requested int64  `json:"requested"`
	Applied   int64  `json:"applied"`
}

// Order is created exactly once per completed payment session, built from the
// verified event snapshot, never from a client-submitted request. It is
// immutable after insert except for the status and audit fields.
type Order struct {
	ID              string
	BuyerID         string
	Items           []LineItem
	TotalAmount     int64
	PaymentStatus   PaymentStatus
	SessionID       string
	CustomerEmail   string
	ShippingAddress string
	Fulfillment     Phase
	FailureReason   string
	Anomalies       []StockAnomaly
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func New(id, buyerID, sessionID string, items []LineItem, total int64) (*Order, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
	}
	if total < 0 {
		return nil, ErrInvalidAmount
	}

	now := time.Now().UTC()
	return &Order{
		ID:            id,
		BuyerID:       buyerID,
		Items:         append([]LineItem(nil), items...),
		TotalAmount:   total,
		PaymentStatus: PaymentStatusPaid,
		SessionID:     sessionID,
		Fulfillment:   PhaseReceived,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]LineItem(nil), o.Items...)
	clone.Anomalies = append([]StockAnomaly(nil), o.Anomalies...)
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
