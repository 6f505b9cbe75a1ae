package inventory

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("inventory: product not found")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
)

// DecrementResult reports the outcome of a floor-clamped decrement as an
// explicit value instead of an aborting error, because by the time the
// reconciler runs the payment is already captured and the decrement must
// not be rolled back.
type DecrementResult struct {
	ProductID string
	Requested int64
	Applied   int64
	Remaining int64
	Conflict  bool
}

// Store is the durable product -> stock map. Implementations must apply every
// mutation as an atomic read-then-write transaction scoped to one product;
// concurrent calls for the same product serialize, and stock never goes
// negative.
type Store interface {
	// Stock returns the current stock level for the advisory pre-checkout
	// read. Unknown products report ErrNotFound.
	Stock(ctx context.Context, productID string) (int64, error)

	// Decrement subtracts qty only if the result stays non-negative,
	// returning the new stock level. Insufficient stock fails with
	// ErrInsufficientStock and leaves the counter untouched.
	Decrement(ctx context.Context, productID string, qty int64) (int64, error)

	// DecrementAtFloor subtracts as much of qty as stock allows, clamping at
	// zero. A shortfall is reported through DecrementResult.Conflict rather
	// than an error.
	DecrementAtFloor(ctx context.Context, productID string, qty int64) (DecrementResult, error)

	// Increase adds qty for replenishment or reversals and returns the new
	// stock level.
	Increase(ctx context.Context, productID string, qty int64) (int64, error)
}
