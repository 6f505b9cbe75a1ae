package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/minicart/fulfillment/internal/domain/checkout"
	"github.com/minicart/fulfillment/internal/domain/payment"
	"github.com/minicart/fulfillment/internal/infrastructure/memory"
)

type stubGateway struct {
	sessionID string
	err       error
	created   []payment.SessionInput
}

func (g *stubGateway) CreateSession(_ context.Context, in payment.SessionInput) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.created = append(g.created, in)
	return g.sessionID, nil
}

func (g *stubGateway) VerifyEvent([]byte, string) (payment.Event, error) {
	return nil, errors.New("not implemented")
}

func newService(store *memory.InventoryStore, gw payment.Gateway) *Service {
	return NewService(store, gw, "http://shop/success", "http://shop/cart", nil, nil)
}

func validRequest() domain.Request {
	return domain.Request{
		BuyerID: "buyer-1",
		Items: []domain.Item{
			{ProductID: "p1", Name: "Widget", Quantity: 2, UnitPrice: 500},
			{ProductID: "p2", Name: "Gadget", Quantity: 1, UnitPrice: 1500},
		},
	}
}

func TestValidateReservationSucceedsWithSufficientStock(t *testing.T) {
	store := memory.NewInventoryStore()
	store.Seed("p1", 2)
	store.Seed("p2", 10)

	svc := newService(store, &stubGateway{sessionID: "sess-1"})
	shortages, err := svc.ValidateReservation(t.Context(), validRequest())
	require.NoError(t, err)
	assert.Empty(t, shortages)
}

func TestValidateReservationNamesExactlyTheInsufficientItems(t *testing.T) {
	store := memory.NewInventoryStore()
	store.Seed("p1", 1) // requested 2
	store.Seed("p2", 5) // requested 1, fine

	svc := newService(store, &stubGateway{sessionID: "sess-1"})
	shortages, err := svc.ValidateReservation(t.Context(), validRequest())
	require.NoError(t, err)

	require.Len(t, shortages, 1)
	assert.Equal(t, domain.Shortage{ProductID: "p1", Requested: 2, Available: 1}, shortages[0])
}

func TestValidateReservationTreatsUnknownProductAsZeroStock(t *testing.T) {
	store := memory.NewInventoryStore()
	store.Seed("p1", 5)

	svc := newService(store, &stubGateway{sessionID: "sess-1"})
	shortages, err := svc.ValidateReservation(t.Context(), validRequest())
	require.NoError(t, err)

	require.Len(t, shortages, 1)
	assert.Equal(t, domain.Shortage{ProductID: "p2", Requested: 1, Available: 0}, shortages[0])
}

func TestBeginCheckoutCreatesSession(t *testing.T) {
	store := memory.NewInventoryStore()
	store.Seed("p1", 2)
	store.Seed("p2", 1)
	gw := &stubGateway{sessionID: "sess-1"}

	svc := newService(store, gw)
	sessionID, err := svc.BeginCheckout(t.Context(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sessionID)

	require.Len(t, gw.created, 1)
	assert.Equal(t, "buyer-1", gw.created[0].BuyerID)
	assert.Equal(t, int64(2500), gw.created[0].Total)
	assert.Equal(t, "http://shop/success", gw.created[0].SuccessURL)
}

func TestBeginCheckoutRejectsInvalidRequest(t *testing.T) {
	store := memory.NewInventoryStore()
	gw := &stubGateway{sessionID: "sess-1"}
	svc := newService(store, gw)

	_, err := svc.BeginCheckout(t.Context(), domain.Request{BuyerID: "buyer-1"})
	assert.ErrorIs(t, err, domain.ErrNoItems)
	assert.Empty(t, gw.created)
}

// P2 stock=1, checkout requests 2: rejected with the exact shortage detail
// and no session is created.
func TestBeginCheckoutRejectsShortageWithoutSession(t *testing.T) {
	store := memory.NewInventoryStore()
	store.Seed("p2", 1)
	gw := &stubGateway{sessionID: "sess-1"}
	svc := newService(store, gw)

	_, err := svc.BeginCheckout(t.Context(), domain.Request{
		BuyerID: "buyer-1",
		Items:   []domain.Item{{ProductID: "p2", Name: "Gadget", Quantity: 2, UnitPrice: 100}},
	})

	var shortage *domain.ShortageError
	require.ErrorAs(t, err, &shortage)
	require.Len(t, shortage.Shortages, 1)
	assert.Equal(t, domain.Shortage{ProductID: "p2", Requested: 2, Available: 1}, shortage.Shortages[0])
	assert.Empty(t, gw.created)
}

func TestBeginCheckoutPropagatesSessionFailure(t *testing.T) {
	store := memory.NewInventoryStore()
	store.Seed("p1", 2)
	store.Seed("p2", 1)
	svc := newService(store, &stubGateway{err: payment.ErrSessionCreate})

	_, err := svc.BeginCheckout(t.Context(), validRequest())
	assert.ErrorIs(t, err, payment.ErrSessionCreate)
}
