package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/minicart/fulfillment/internal/domain/inventory"
	"github.com/minicart/fulfillment/internal/domain/notification"
	"github.com/minicart/fulfillment/internal/domain/order"
	"github.com/minicart/fulfillment/internal/domain/payment"
	"github.com/minicart/fulfillment/internal/pkg/logging"
	"github.com/minicart/fulfillment/internal/pkg/retry"
)

const (
	useCaseReconcile = "fulfillment.reconcile"
	spanPrefix       = "UC."
)

// ErrLedgerWrite is surfaced when the retry budget for the order insert is
// exhausted. The delivery is answered with a 5xx so the gateway redelivers;
// the decrements applied for it are released first so the redelivery starts
// from clean stock, and the paid order is dumped to the log for manual
// reconciliation.
var ErrLedgerWrite = errors.New("fulfillment: ledger write failed")

type IDGenerator interface {
	NewID() string
}

// Metrics are supplied via DI; the reconciler never instantiates vectors.
type Metrics struct {
	Requests             *prometheus.CounterVec   // usecase_requests_total{use_case,outcome}
	Duration             *prometheus.HistogramVec // usecase_duration_seconds{use_case}
	Events               *prometheus.CounterVec   // fulfillment_events_total{type,outcome}
	StockConflicts       prometheus.Counter
	NotificationFailures prometheus.Counter
}

// Reconciler consumes verified payment-completion events and drives each one
// through the fulfillment phases: decrement stock, write the order, dispatch
// the receipt. Webhook delivery is at-least-once, so a session that already
// produced an order is acknowledged as a no-op replay before any side effect.
//
// Everything here runs after the payment was captured, so the policy is fail
// open: stock shortfalls clamp at zero and flag an anomaly instead of
// aborting, and a lost notification degrades the order to partial_failure
// rather than rolling anything back.
type Reconciler struct {
	gateway    payment.Gateway
	store      inventory.Store
	ledger     order.Ledger
	dispatcher notification.Dispatcher
	ids        IDGenerator
	retry      retry.Policy

	log     *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

func NewReconciler(
	gw payment.Gateway,
	store inventory.Store,
	ledger order.Ledger,
	dispatcher notification.Dispatcher,
	ids IDGenerator,
	policy retry.Policy,
	logger *zap.Logger,
	metrics *Metrics,
) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		gateway:    gw,
		store:      store,
		ledger:     ledger,
		dispatcher: dispatcher,
		ids:        ids,
		retry:      policy,
		log:        logger.With(zap.String("component", "fulfillment_reconciler")),
		metrics:    metrics,
		tracer:     otel.Tracer("fulfillment.reconciler"),
	}
}

// Result reports how a single webhook delivery ended.
type Result struct {
	Kind     string
	OrderID  string
	Phase    order.Phase
	Replayed bool
}

// HandleDelivery authenticates and processes one raw webhook delivery. The
// payload must be the unparsed body as read off the wire.
func (r *Reconciler) HandleDelivery(ctx context.Context, payload []byte, signature string) (_ *Result, err error) {
	logger := logging.FromContext(ctx).With(zap.String("use_case", useCaseReconcile))

	ctx, span := r.tracer.Start(ctx, spanPrefix+"ReconcileDelivery",
		trace.WithAttributes(attribute.String("use_case", useCaseReconcile)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		lat := time.Since(start).Seconds()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		if r.metrics != nil && r.metrics.Requests != nil {
			r.metrics.Requests.WithLabelValues(useCaseReconcile, outcome).Inc()
		}
		if r.metrics != nil && r.metrics.Duration != nil {
			r.metrics.Duration.WithLabelValues(useCaseReconcile).Observe(lat)
		}

		fields := []zap.Field{
			zap.String("outcome", outcome),
			zap.String("status", statusText),
			zap.Float64("latency_seconds", lat),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		logger.Info("use_case_done", fields...)
	}()

	event, verr := r.gateway.VerifyEvent(payload, signature)
	if verr != nil {
		outcome, statusText = "error", "VERIFICATION_FAILED"
		r.countEvent("unverified", "rejected")
		err = verr
		return nil, err
	}

	span.SetAttributes(
		attribute.String("event.kind", event.Kind()),
		attribute.String("event.session_id", event.Session()),
	)

	switch e := event.(type) {
	case payment.CheckoutCompleted:
		result, status, rerr := r.reconcile(ctx, logger, span, e)
		if rerr != nil {
			outcome, statusText = "error", status
			err = rerr
			return nil, err
		}
		return result, nil
	case payment.CheckoutExpired:
		logger.Info("session_expired", zap.String("session_id", e.SessionID))
		r.countEvent(e.Kind(), "ignored")
		return &Result{Kind: e.Kind()}, nil
	default:
		// Unknown kinds are acknowledged so the gateway stops redelivering.
		logger.Info("event_ignored", zap.String("kind", event.Kind()))
		r.countEvent("unknown", "ignored")
		return &Result{Kind: event.Kind()}, nil
	}
}

func (r *Reconciler) reconcile(ctx context.Context, logger *zap.Logger, span trace.Span, e payment.CheckoutCompleted) (*Result, string, error) {
	logger = logger.With(zap.String("session_id", e.SessionID))

	// Idempotency gate: a session that already produced an order is a
	// replayed delivery and must cause no second decrement, order, or
	// notification.
	existing, ferr := r.ledger.FindBySession(ctx, e.SessionID)
	if ferr == nil {
		logger.Info("delivery_replayed", zap.String("order_id", existing.ID))
		span.AddEvent("delivery.replayed", trace.WithAttributes(attribute.String("order.id", existing.ID)))
		r.countEvent(e.Kind(), "replayed")
		return &Result{Kind: e.Kind(), OrderID: existing.ID, Phase: existing.Fulfillment, Replayed: true}, "OK", nil
	}
	if !errors.Is(ferr, order.ErrNotFound) {
		r.countEvent(e.Kind(), "error")
		return nil, "IDEMPOTENCY_LOOKUP_FAILED", fmt.Errorf("fulfillment: idempotency lookup: %w", ferr)
	}

	// The order is built from the verified snapshot only; a fresh client
	// request could name different items than what was paid for.
	o, derr := order.New(r.ids.NewID(), e.BuyerID, e.SessionID, e.Items, e.AmountTotal)
	if derr != nil {
		r.countEvent(e.Kind(), "error")
		return nil, "ORDER_CONSTRUCT_FAILED", fmt.Errorf("fulfillment: construct order: %w", derr)
	}
	o.CustomerEmail = e.CustomerEmail
	o.ShippingAddress = e.ShippingAddress
	if err := o.MarkVerified(); err != nil {
		return nil, "PHASE_TRANSITION_FAILED", err
	}

	anomalies, applied := r.reserveStock(ctx, logger, o)
	if err := o.MarkStockReserved(anomalies); err != nil {
		r.releaseStock(ctx, logger, applied)
		return nil, "PHASE_TRANSITION_FAILED", err
	}

	result, status, werr := r.writeLedger(ctx, logger, e, o)
	if werr != nil {
		// No durable record of this session exists, so the gateway will
		// redeliver. Reverse this delivery's decrements or the redelivery
		// would apply them a second time.
		r.releaseStock(ctx, logger, applied)
		return nil, status, werr
	}
	if result != nil {
		return result, "OK", nil
	}
	if err := o.MarkLedgerWritten(); err != nil {
		return nil, "PHASE_TRANSITION_FAILED", err
	}

	r.notify(ctx, logger, o)

	if uerr := r.ledger.UpdateAudit(ctx, o); uerr != nil {
		logger.Warn("order_audit_update_failed", zap.String("order_id", o.ID), zap.Error(uerr))
	}

	span.SetAttributes(
		attribute.String("order.id", o.ID),
		attribute.String("order.phase", string(o.Fulfillment)),
	)
	r.countEvent(e.Kind(), string(o.Fulfillment))
	return &Result{Kind: e.Kind(), OrderID: o.ID, Phase: o.Fulfillment}, "OK", nil
}

// stockRelease remembers how much of one line item's decrement actually
// landed, so a failed reconciliation can reverse exactly that much.
type stockRelease struct {
	productID string
	qty       int64
}

// reserveStock applies the conditional decrement for every paid line item.
// The payment is already captured, so shortfalls clamp at zero and are
// flagged instead of aborting; a store that stays down after the retry
// budget is recorded as an unapplied anomaly and fulfillment continues.
func (r *Reconciler) reserveStock(ctx context.Context, logger *zap.Logger, o *order.Order) ([]order.StockAnomaly, []stockRelease) {
	var anomalies []order.StockAnomaly
	var applied []stockRelease

	for _, it := range o.Items {
		var res inventory.DecrementResult
		err := r.retry.Do(ctx, func(ctx context.Context) error {
			var derr error
			res, derr = r.store.DecrementAtFloor(ctx, it.ProductID, it.Quantity)
			return derr
		}, nil)
		if err != nil {
			logger.Error("stock_decrement_failed",
				zap.String("product_id", it.ProductID),
				zap.Int64("quantity", it.Quantity),
				zap.Error(err),
			)
			anomalies = append(anomalies, order.StockAnomaly{
				ProductID: it.ProductID,
				Requested: it.Quantity,
				Applied:   0,
			})
			continue
		}
		if res.Applied > 0 {
			applied = append(applied, stockRelease{productID: it.ProductID, qty: res.Applied})
		}

		if res.Conflict {
			logger.Error("stock_conflict",
				zap.String("product_id", it.ProductID),
				zap.Int64("requested", res.Requested),
				zap.Int64("applied", res.Applied),
			)
			if r.metrics != nil && r.metrics.StockConflicts != nil {
				r.metrics.StockConflicts.Inc()
			}
			anomalies = append(anomalies, order.StockAnomaly{
				ProductID: it.ProductID,
				Requested: res.Requested,
				Applied:   res.Applied,
			})
		}
	}
	return anomalies, applied
}

// releaseStock reverses the decrements of a delivery whose order could not be
// recorded. A release that itself fails leaves drift, which is logged for
// manual correction; the delivery still surfaces its original error.
func (r *Reconciler) releaseStock(ctx context.Context, logger *zap.Logger, applied []stockRelease) {
	for _, a := range applied {
		err := r.retry.Do(ctx, func(ctx context.Context) error {
			_, ierr := r.store.Increase(ctx, a.productID, a.qty)
			return ierr
		}, nil)
		if err != nil {
			logger.Error("stock_release_failed",
				zap.String("product_id", a.productID),
				zap.Int64("quantity", a.qty),
				zap.Error(err),
			)
		}
	}
}

// writeLedger appends the order with bounded backoff. A uniqueness conflict
// means a concurrent duplicate delivery won the race, which resolves to a
// replay. A non-nil result or error means reconciliation ends here; the
// middle return names the error status for the use-case outcome.
func (r *Reconciler) writeLedger(ctx context.Context, logger *zap.Logger, e payment.CheckoutCompleted, o *order.Order) (*Result, string, error) {
	ierr := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.ledger.Insert(ctx, o)
	}, func(err error) bool {
		return errors.Is(err, order.ErrConflict)
	})
	if ierr == nil {
		return nil, "", nil
	}

	if errors.Is(ierr, order.ErrConflict) {
		if existing, ferr := r.ledger.FindBySession(ctx, e.SessionID); ferr == nil {
			logger.Info("delivery_replayed", zap.String("order_id", existing.ID))
			r.countEvent(e.Kind(), "replayed")
			return &Result{Kind: e.Kind(), OrderID: existing.ID, Phase: existing.Fulfillment, Replayed: true}, "", nil
		}
		r.countEvent(e.Kind(), "error")
		return nil, "LEDGER_CONFLICT_UNRESOLVED", fmt.Errorf("fulfillment: insert conflict without ledger entry: %w", ierr)
	}

	// The paid order must never vanish silently: dump it for manual
	// reconciliation before surfacing the failure to the gateway.
	if merr := o.MarkLedgerFailed(ierr.Error()); merr != nil {
		logger.Error("phase_transition_failed", zap.Error(merr))
	}
	dump, _ := json.Marshal(o)
	logger.Error("order_ledger_write_exhausted",
		zap.String("session_id", e.SessionID),
		zap.ByteString("order", dump),
		zap.Error(ierr),
	)
	r.countEvent(e.Kind(), string(order.PhasePartialFailure))
	return nil, "LEDGER_WRITE_EXHAUSTED", fmt.Errorf("%w: %w", ErrLedgerWrite, ierr)
}

// notify dispatches the receipt. Failure never rolls the order back; it
// degrades the phase to partial_failure and is surfaced to operators only.
func (r *Reconciler) notify(ctx context.Context, logger *zap.Logger, o *order.Order) {
	nerr := r.dispatcher.SendReceipt(ctx, notification.NewReceipt(o))
	if nerr != nil {
		logger.Error("receipt_dispatch_failed", zap.String("order_id", o.ID), zap.Error(nerr))
		if r.metrics != nil && r.metrics.NotificationFailures != nil {
			r.metrics.NotificationFailures.Inc()
		}
		if merr := o.MarkNotificationFailed(nerr.Error()); merr != nil {
			logger.Error("phase_transition_failed", zap.Error(merr))
		}
		return
	}

	if merr := o.MarkNotificationSent(); merr != nil {
		logger.Error("phase_transition_failed", zap.Error(merr))
		return
	}
	if merr := o.Complete(); merr != nil {
		logger.Error("phase_transition_failed", zap.Error(merr))
	}
}

func (r *Reconciler) countEvent(kind, outcome string) {
	if r.metrics != nil && r.metrics.Events != nil {
		r.metrics.Events.WithLabelValues(kind, outcome).Inc()
	}
}
