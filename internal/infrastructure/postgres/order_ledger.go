package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/minicart/fulfillment/internal/domain/order"
)

// Schema: orders(id text primary key, buyer_id text, items jsonb,
// total_amount bigint, payment_status text, session_id text unique,
// customer_email text, shipping_address text, fulfillment text,
// failure_reason text, anomalies jsonb, created_at timestamptz,
// updated_at timestamptz). The unique index on session_id carries the
// idempotency guarantee.
type OrderLedger struct {
	db *pgxpool.Pool
}

func NewOrderLedger(db *pgxpool.Pool) *OrderLedger {
	return &OrderLedger{db: db}
}

func (l *OrderLedger) Insert(ctx context.Context, o *domain.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("order ledger: marshal items: %w", err)
	}
	anomalies, err := json.Marshal(o.Anomalies)
	if err != nil {
		return fmt.Errorf("order ledger: marshal anomalies: %w", err)
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO orders (id, buyer_id, items, total_amount, payment_status, session_id,
			customer_email, shipping_address, fulfillment, failure_reason, anomalies,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, o.ID, o.BuyerID, items, o.TotalAmount, o.PaymentStatus, o.SessionID,
		o.CustomerEmail, o.ShippingAddress, o.Fulfillment, o.FailureReason, anomalies,
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrConflict
		}
		return fmt.Errorf("order ledger: insert: %w", err)
	}
	return nil
}

func (l *OrderLedger) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	return l.findWhere(ctx, "id = $1", id)
}

func (l *OrderLedger) FindBySession(ctx context.Context, sessionID string) (*domain.Order, error) {
	if sessionID == "" {
		return nil, domain.ErrNotFound
	}
	return l.findWhere(ctx, "session_id = $1", sessionID)
}

func (l *OrderLedger) UpdateAudit(ctx context.Context, o *domain.Order) error {
	anomalies, err := json.Marshal(o.Anomalies)
	if err != nil {
		return fmt.Errorf("order ledger: marshal anomalies: %w", err)
	}

	tag, err := l.db.Exec(ctx, `
		UPDATE orders
		SET payment_status = $1, fulfillment = $2, failure_reason = $3,
			anomalies = $4, updated_at = $5
		WHERE id = $6
	`, o.PaymentStatus, o.Fulfillment, o.FailureReason, anomalies, o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("order ledger: update audit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (l *OrderLedger) findWhere(ctx context.Context, where string, arg any) (*domain.Order, error) {
	var (
		o         domain.Order
		items     []byte
		anomalies []byte
	)

	err := l.db.QueryRow(ctx, `
		SELECT id, buyer_id, items, total_amount, payment_status, session_id,
			customer_email, shipping_address, fulfillment, failure_reason, anomalies,
			created_at, updated_at
		FROM orders WHERE `+where, arg,
	).Scan(&o.ID, &o.BuyerID, &items, &o.TotalAmount, &o.PaymentStatus, &o.SessionID,
		&o.CustomerEmail, &o.ShippingAddress, &o.Fulfillment, &o.FailureReason, &anomalies,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("order ledger: query: %w", err)
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("order ledger: unmarshal items: %w", err)
	}
	if len(anomalies) > 0 {
		if err := json.Unmarshal(anomalies, &o.Anomalies); err != nil {
			return nil, fmt.Errorf("order ledger: unmarshal anomalies: %w", err)
		}
	}
	return &o, nil
}
