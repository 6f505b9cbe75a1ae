package order

import "context"

// Ledger is the append-only durable store of orders. Insert must enforce
// uniqueness on both the order id and the source session id so that
// at-least-once webhook delivery can never produce two orders for one
// payment session.
type Ledger interface {
	Insert(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindBySession(ctx context.Context, sessionID string) (*Order, error)
	// UpdateAudit persists status and audit fields (fulfillment phase,
	// failure reason, anomalies, updated_at) of an already inserted order.
	UpdateAudit(ctx context.Context, o *Order) error
}
