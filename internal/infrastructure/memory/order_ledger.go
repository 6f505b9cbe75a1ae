package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/minicart/fulfillment/internal/domain/order"
)

// OrderLedger is the in-memory ledger used for local runs and tests. A
// session index enforces the one-order-per-payment-session invariant the
// same way the durable implementation does with a unique column.
type OrderLedger struct {
	mu       sync.RWMutex
	orders   map[string]*domain.Order
	sessions map[string]string // sessionID -> orderID
}

func NewOrderLedger() *OrderLedger {
	return &OrderLedger{
		orders:   make(map[string]*domain.Order),
		sessions: make(map[string]string),
	}
}

func (l *OrderLedger) Insert(ctx context.Context, o *domain.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("order ledger: id is required")
	}
	if o.SessionID == "" {
		return domain.ErrMissingSession
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.orders[o.ID]; exists {
		return domain.ErrConflict
	}
	if _, exists := l.sessions[o.SessionID]; exists {
		return domain.ErrConflict
	}

	l.orders[o.ID] = o.Clone()
	l.sessions[o.SessionID] = o.ID
	return nil
}

func (l *OrderLedger) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o.Clone(), nil
}

func (l *OrderLedger) FindBySession(ctx context.Context, sessionID string) (*domain.Order, error) {
	_ = ctx
	if sessionID == "" {
		return nil, domain.ErrNotFound
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	orderID, ok := l.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	o, ok := l.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o.Clone(), nil
}

func (l *OrderLedger) UpdateAudit(ctx context.Context, o *domain.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("order ledger: id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stored, ok := l.orders[o.ID]
	if !ok {
		return domain.ErrNotFound
	}

	stored.PaymentStatus = o.PaymentStatus
	stored.Fulfillment = o.Fulfillment
	stored.FailureReason = o.FailureReason
	stored.Anomalies = append([]domain.StockAnomaly(nil), o.Anomalies...)
	stored.UpdatedAt = o.UpdatedAt
	return nil
}
