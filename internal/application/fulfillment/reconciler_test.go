package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minicart/fulfillment/internal/domain/checkout"
	"github.com/minicart/fulfillment/internal/domain/notification"
	"github.com/minicart/fulfillment/internal/domain/order"
	"github.com/minicart/fulfillment/internal/domain/payment"
	"github.com/minicart/fulfillment/internal/infrastructure/gateway"
	"github.com/minicart/fulfillment/internal/infrastructure/memory"
	"github.com/minicart/fulfillment/internal/pkg/retry"
)

const testSecret = "whsec_test"

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("ord-%d", s.n)
}

type recordingDispatcher struct {
	mu       sync.Mutex
	err      error
	receipts []notification.Receipt
}

func (d *recordingDispatcher) SendReceipt(_ context.Context, r notification.Receipt) error {
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.receipts = append(d.receipts, r)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.receipts)
}

type failingLedger struct {
	order.Ledger
}

func (failingLedger) Insert(context.Context, *order.Order) error {
	return errors.New("ledger unavailable")
}

type fixture struct {
	gw         *gateway.Fake
	store      *memory.InventoryStore
	ledger     order.Ledger
	dispatcher *recordingDispatcher
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gw:         gateway.NewFake(testSecret),
		store:      memory.NewInventoryStore(),
		ledger:     memory.NewOrderLedger(),
		dispatcher: &recordingDispatcher{},
	}
	f.rebuild()
	return f
}

func (f *fixture) rebuild() {
	f.reconciler = NewReconciler(
		f.gw, f.store, f.ledger, f.dispatcher, &seqIDs{},
		retry.Policy{Attempts: 2, Base: time.Millisecond, Max: time.Millisecond},
		nil, nil,
	)
}

// beginSession mimics a paid checkout: session created, then the provider's
// signed completion delivery minted for it.
func (f *fixture) beginSession(t *testing.T, buyerID string, items []checkout.Item, total int64) (payload []byte, signature string, sessionID string) {
	t.Helper()
	sessionID, err := f.gw.CreateSession(t.Context(), payment.SessionInput{
		BuyerID: buyerID,
		Items:   items,
		Total:   total,
	})
	require.NoError(t, err)

	payload, signature, err = f.gw.CompleteSession(sessionID, buyerID+"@example.com", "1 Main St")
	require.NoError(t, err)
	return payload, signature, sessionID
}

func singleItem(productID string, qty int64) []checkout.Item {
	return []checkout.Item{{ProductID: productID, Name: "Widget", Quantity: qty, UnitPrice: 500}}
}

func TestHandleDeliveryHappyPath(t *testing.T) {
	f := newFixture(t)
	f.store.Seed("p1", 5)
	payload, sig, sessionID := f.beginSession(t, "buyer-1", singleItem("p1", 2), 1000)

	result, err := f.reconciler.HandleDelivery(t.Context(), payload, sig)
	require.NoError(t, err)

	assert.Equal(t, order.PhaseDone, result.Phase)
	assert.False(t, result.Replayed)

	o, err := f.ledger.FindBySession(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, result.OrderID, o.ID)
	assert.Equal(t, order.PaymentStatusPaid, o.PaymentStatus)
	assert.Equal(t, order.PhaseDone, o.Fulfillment)
	assert.Equal(t, "buyer-1@example.com", o.CustomerEmail)
	assert.Empty(t, o.Anomalies)

	stock, err := f.store.Stock(t.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stock)

	assert.Equal(t, 1, f.dispatcher.count())
}

// S1: the identical delivery twice yields exactly one order, one set of
// decrements, one receipt.
func TestHandleDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.store.Seed("p1", 5)
	payload, sig, sessionID := f.beginSession(t, "buyer-1", singleItem("p1", 2), 1000)

	first, err := f.reconciler.HandleDelivery(t.Context(), payload, sig)
	require.NoError(t, err)
	second, err := f.reconciler.HandleDelivery(t.Context(), payload, sig)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)

	stock, err := f.store.Stock(t.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stock)
	assert.Equal(t, 1, f.dispatcher.count())

	o, err := f.ledger.FindBySession(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, o.ID)
}

func TestHandleDeliveryRejectsTamperedSignature(t *testing.T) {
	f := newFixture(t)
	f.store.Seed("p1", 5)
	payload, _, sessionID := f.beginSession(t, "buyer-1", singleItem("p1", 2), 1000)

	_, err := f.reconciler.HandleDelivery(t.Context(), payload, "t=1,v1=bogus")
	assert.ErrorIs(t, err, payment.ErrBadSignature)

	// no side effects of any kind
	_, err = f.ledger.FindBySession(t.Context(), sessionID)
	assert.ErrorIs(t, err, order.ErrNotFound)
	stock, err := f.store.Stock(t.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), stock)
	assert.Equal(t, 0, f.dispatcher.count())
}

func TestHandleDeliveryIgnoresUnknownKinds(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"type":"refund.created","session_id":"sess-1","data":{}}`)
	sig := gateway.Sign(testSecret, time.Now(), payload)

	result, err := f.reconciler.HandleDelivery(t.Context(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, "refund.created", result.Kind)
	assert.Empty(t, result.OrderID)
	assert.Equal(t, 0, f.dispatcher.count())
}

func TestHandleDeliveryIgnoresExpiredSessions(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"type":"checkout.expired","session_id":"sess-1","data":{"session_id":"sess-1"}}`)
	sig := gateway.Sign(testSecret, time.Now(), payload)

	result, err := f.reconciler.HandleDelivery(t.Context(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, "checkout.expired", result.Kind)
	assert.Empty(t, result.OrderID)
}

// Payment already captured against insufficient stock: the decrement clamps
// at zero, the order is still recorded, and the shortfall is flagged.
func TestHandleDeliveryClampsStockConflict(t *testing.T) {
	f := newFixture(t)
	f.store.Seed("p1", 1)
	payload, sig, sessionID := f.beginSession(t, "buyer-1", singleItem("p1", 2), 1000)

	result, err := f.reconciler.HandleDelivery(t.Context(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, order.PhaseStockConflict, result.Phase)

	o, err := f.ledger.FindBySession(t.Context(), sessionID)
	require.NoError(t, err)
	require.Len(t, o.Anomalies, 1)
	assert.Equal(t, order.StockAnomaly{ProductID: "p1", Requested: 2, Applied: 1}, o.Anomalies[0])

	stock, err := f.store.Stock(t.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stock)

	// the order still went out for notification
	assert.Equal(t, 1, f.dispatcher.count())
}

func TestHandleDeliveryNotificationFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	f.store.Seed("p1", 5)
	f.dispatcher.err = errors.New("broker unreachable")
	payload, sig, sessionID := f.beginSession(t, "buyer-1", singleItem("p1", 2), 1000)

	result, err := f.reconciler.HandleDelivery(t.Context(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, order.PhasePartialFailure, result.Phase)

	o, err := f.ledger.FindBySession(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, order.PhasePartialFailure, o.Fulfillment)
	assert.Equal(t, "broker unreachable", o.FailureReason)
	assert.Equal(t, order.PaymentStatusPaid, o.PaymentStatus)
}

func TestHandleDeliverySurfacesLedgerExhaustion(t *testing.T) {
	f := newFixture(t)
	f.store.Seed("p1", 5)
	payload, sig, _ := f.beginSession(t, "buyer-1", singleItem("p1", 2), 1000)

	f.ledger = failingLedger{Ledger: memory.NewOrderLedger()}
	f.rebuild()

	_, err := f.reconciler.HandleDelivery(t.Context(), payload, sig)
	assert.ErrorIs(t, err, ErrLedgerWrite)

	// the delivery's decrements were released so the redelivery starts clean
	stock, serr := f.store.Stock(t.Context(), "p1")
	require.NoError(t, serr)
	assert.Equal(t, int64(5), stock)
	assert.Equal(t, 0, f.dispatcher.count())
}

// A ledger outage spanning several redeliveries must not drift inventory:
// each failed attempt reverses its own decrements, and the delivery that
// finally lands decrements exactly once.
func TestRedeliveryAfterLedgerOutageDecrementsOnce(t *testing.T) {
	f := newFixture(t)
	f.store.Seed("p1", 10)
	payload, sig, sessionID := f.beginSession(t, "buyer-1", singleItem("p1", 2), 1000)

	healthy := f.ledger
	f.ledger = failingLedger{Ledger: healthy}
	f.rebuild()

	for i := 0; i < 2; i++ {
		_, err := f.reconciler.HandleDelivery(t.Context(), payload, sig)
		assert.ErrorIs(t, err, ErrLedgerWrite)
	}

	stock, err := f.store.Stock(t.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), stock)

	f.ledger = healthy
	f.rebuild()

	result, err := f.reconciler.HandleDelivery(t.Context(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, order.PhaseDone, result.Phase)
	assert.False(t, result.Replayed)

	stock, err = f.store.Stock(t.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), stock)
	assert.Equal(t, 1, f.dispatcher.count())

	o, err := f.ledger.FindBySession(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, result.OrderID, o.ID)
}

func TestHandleDeliveryCountsLedgerFailureAsError(t *testing.T) {
	f := newFixture(t)
	f.store.Seed("p1", 5)
	payload, sig, _ := f.beginSession(t, "buyer-1", singleItem("p1", 2), 1000)

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "usecase_requests_total"},
		[]string{"use_case", "outcome"},
	)
	f.reconciler = NewReconciler(
		f.gw, f.store, failingLedger{Ledger: memory.NewOrderLedger()}, f.dispatcher, &seqIDs{},
		retry.Policy{Attempts: 2, Base: time.Millisecond, Max: time.Millisecond},
		nil, &Metrics{Requests: requests},
	)

	_, err := f.reconciler.HandleDelivery(t.Context(), payload, sig)
	require.ErrorIs(t, err, ErrLedgerWrite)

	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues(useCaseReconcile, "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(requests.WithLabelValues(useCaseReconcile, "success")))
}

// Two buyers pay for the last two units of P1 concurrently: both orders are
// recorded and stock lands exactly at zero.
func TestConcurrentSessionsForSameProduct(t *testing.T) {
	f := newFixture(t)
	f.store.Seed("p1", 2)

	payloadA, sigA, sessionA := f.beginSession(t, "buyer-a", singleItem("p1", 1), 500)
	payloadB, sigB, sessionB := f.beginSession(t, "buyer-b", singleItem("p1", 1), 500)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, d := range []struct {
		payload []byte
		sig     string
	}{{payloadA, sigA}, {payloadB, sigB}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.reconciler.HandleDelivery(context.Background(), d.payload, d.sig)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	a, err := f.ledger.FindBySession(t.Context(), sessionA)
	require.NoError(t, err)
	b, err := f.ledger.FindBySession(t.Context(), sessionB)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Empty(t, a.Anomalies)
	assert.Empty(t, b.Anomalies)

	stock, err := f.store.Stock(t.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stock)
	assert.Equal(t, 2, f.dispatcher.count())
}
