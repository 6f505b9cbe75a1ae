package memory

import (
	"context"
	"sync"

	domain "github.com/minicart/fulfillment/internal/domain/inventory"
)

// InventoryStore keeps stock counters in process memory. A single mutex
// serializes all mutations, which trivially satisfies the per-product
// serialization contract; reads clone nothing because counters are scalars.
type InventoryStore struct {
	mu    sync.RWMutex
	stock map[string]int64
}

func NewInventoryStore() *InventoryStore {
	return &InventoryStore{stock: make(map[string]int64)}
}

// Seed installs an initial stock level, replacing any existing counter.
// Intended for startup fixtures and tests.
func (s *InventoryStore) Seed(productID string, qty int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[productID] = qty
}

func (s *InventoryStore) Stock(ctx context.Context, productID string) (int64, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	qty, ok := s.stock[productID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return qty, nil
}

func (s *InventoryStore) Decrement(ctx context.Context, productID string, qty int64) (int64, error) {
	_ = ctx
	if qty <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.stock[productID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if current < qty {
		return current, domain.ErrInsufficientStock
	}
	s.stock[productID] = current - qty
	return current - qty, nil
}

func (s *InventoryStore) DecrementAtFloor(ctx context.Context, productID string, qty int64) (domain.DecrementResult, error) {
	_ = ctx
	if qty <= 0 {
		return domain.DecrementResult{}, domain.ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.stock[productID]
	applied := qty
	if applied > current {
		applied = current
	}
	s.stock[productID] = current - applied

	return domain.DecrementResult{
		ProductID: productID,
		Requested: qty,
		Applied:   applied,
		Remaining: current - applied,
		Conflict:  applied < qty,
	}, nil
}

func (s *InventoryStore) Increase(ctx context.Context, productID string, qty int64) (int64, error) {
	_ = ctx
	if qty <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stock[productID] += qty
	return s.stock[productID], nil
}
