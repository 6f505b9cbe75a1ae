package checkout

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoItems          = errors.New("checkout: at least one item is required")
	ErrMissingBuyer     = errors.New("checkout: buyer id is required")
	ErrMissingProductID = errors.New("checkout: product id is required")
	ErrInvalidQuantity  = errors.New("checkout: quantity must be greater than zero")
	ErrInvalidPrice     = errors.New("checkout: unit price must be zero or greater")
)

type Item struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Request is the ephemeral client-submitted checkout payload. Nothing is
// persisted from it; the order is later built from the gateway's verified
// snapshot.
type Request struct {
	BuyerID string `json:"buyer_id"`
	Items   []Item `json:"items"`
}

func (r Request) Validate() error {
	if r.BuyerID == "" {
		return ErrMissingBuyer
	}
	if len(r.Items) == 0 {
		return ErrNoItems
	}
	for _, it := range r.Items {
		if it.ProductID == "" {
			return ErrMissingProductID
		}
		if it.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		if it.UnitPrice < 0 {
			return ErrInvalidPrice
		}
	}
	return nil
}

func (r Request) Total() int64 {
	var total int64
	for _, it := range r.Items {
		total += it.Quantity * it.UnitPrice
	}
	return total
}

// Shortage names one line item whose requested quantity exceeds current stock.
type Shortage struct {
	ProductID string `json:"product_id"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
}

// ShortageError is the advisory pre-checkout rejection. It lists exactly the
// insufficient items; stock is not reserved or locked.
type ShortageError struct {
	Shortages []Shortage
}

func (e *ShortageError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s requested=%d available=%d", s.ProductID, s.Requested, s.Available))
	}
	return "checkout: insufficient stock: " + strings.Join(parts, ", ")
}
