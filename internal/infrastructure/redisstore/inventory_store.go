package redisstore

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"

	domain "github.com/minicart/fulfillment/internal/domain/inventory"
)

const maxTxRetries = 16

// InventoryStore keeps stock counters in Redis. Mutations run as optimistic
// WATCH transactions so concurrent callers for the same product serialize:
// a caller that loses the race observes the other's effect and retries.
type InventoryStore struct {
	client *redis.Client
	prefix string
}

func NewInventoryStore(client *redis.Client) *InventoryStore {
	return &InventoryStore{client: client, prefix: "stock:"}
}

func (s *InventoryStore) key(productID string) string {
	return s.prefix + productID
}

func (s *InventoryStore) Stock(ctx context.Context, productID string) (int64, error) {
	value, err := s.client.Get(ctx, s.key(productID)).Result()
	if err == redis.Nil {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(value, 10, 64)
}

func (s *InventoryStore) Decrement(ctx context.Context, productID string, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	var remaining int64
	err := s.transact(ctx, productID, func(current int64, exists bool) (int64, error) {
		if !exists {
			return 0, domain.ErrNotFound
		}
		if current < qty {
			return 0, domain.ErrInsufficientStock
		}
		remaining = current - qty
		return remaining, nil
	})
	return remaining, err
}

func (s *InventoryStore) DecrementAtFloor(ctx context.Context, productID string, qty int64) (domain.DecrementResult, error) {
	if qty <= 0 {
		return domain.DecrementResult{}, domain.ErrInvalidQuantity
	}

	var result domain.DecrementResult
	err := s.transact(ctx, productID, func(current int64, exists bool) (int64, error) {
		_ = exists // missing counters clamp from zero
		applied := qty
		if applied > current {
			applied = current
		}
		result = domain.DecrementResult{
			ProductID: productID,
			Requested: qty,
			Applied:   applied,
			Remaining: current - applied,
			Conflict:  applied < qty,
		}
		return current - applied, nil
	})
	if err != nil {
		return domain.DecrementResult{}, err
	}
	return result, nil
}

func (s *InventoryStore) Increase(ctx context.Context, productID string, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	var remaining int64
	err := s.transact(ctx, productID, func(current int64, exists bool) (int64, error) {
		_ = exists
		remaining = current + qty
		return remaining, nil
	})
	return remaining, err
}

// transact runs compute inside a WATCH/MULTI/EXEC cycle on the product key,
// retrying when another writer invalidates the watched value.
func (s *InventoryStore) transact(ctx context.Context, productID string, compute func(current int64, exists bool) (int64, error)) error {
	key := s.key(productID)

	txn := func(tx *redis.Tx) error {
		var current int64
		exists := true

		value, err := tx.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
			exists = false
		case err != nil:
			return err
		default:
			current, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
		}

		next, err := compute(current, exists)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, strconv.FormatInt(next, 10), 0)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, txn, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return err
}
