package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	domain "github.com/minicart/fulfillment/internal/domain/checkout"
	"github.com/minicart/fulfillment/internal/domain/inventory"
	"github.com/minicart/fulfillment/internal/domain/payment"
	"github.com/minicart/fulfillment/internal/pkg/logging"
)

const (
	useCaseBeginCheckout = "checkout.begin"
	spanPrefix           = "UC."
)

// Metrics are supplied via DI; use cases never instantiate vectors.
type Metrics struct {
	Requests *prometheus.CounterVec   // usecase_requests_total{use_case,outcome}
	Duration *prometheus.HistogramVec // usecase_duration_seconds{use_case}
}

// Service runs the pre-checkout flow: advisory stock validation followed by
// gateway session creation. It persists nothing; an abandoned checkout
// leaves no trace.
type Service struct {
	store      inventory.Store
	gateway    payment.Gateway
	successURL string
	cancelURL  string

	log     *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

func NewService(store inventory.Store, gw payment.Gateway, successURL, cancelURL string, logger *zap.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		gateway:    gw,
		successURL: successURL,
		cancelURL:  cancelURL,
		log:        logger.With(zap.String("component", "checkout_service")),
		metrics:    metrics,
		tracer:     otel.Tracer("fulfillment.checkout"),
	}
}

// ValidateReservation checks every line item for stock sufficiency. It is a
// pure read: nothing is reserved or locked, because the window between
// session creation and payment spans an external redirect. Items are checked
// concurrently; a missing product counts as zero available.
func (s *Service) ValidateReservation(ctx context.Context, req domain.Request) ([]domain.Shortage, error) {
	shortages := make([]*domain.Shortage, len(req.Items))

	g, gctx := errgroup.WithContext(ctx)
	for i, it := range req.Items {
		g.Go(func() error {
			available, err := s.store.Stock(gctx, it.ProductID)
			if errors.Is(err, inventory.ErrNotFound) {
				available = 0
			} else if err != nil {
				return err
			}
			if available < it.Quantity {
				shortages[i] = &domain.Shortage{
					ProductID: it.ProductID,
					Requested: it.Quantity,
					Available: available,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var found []domain.Shortage
	for _, sh := range shortages {
		if sh != nil {
			found = append(found, *sh)
		}
	}
	return found, nil
}

// BeginCheckout validates the request, runs the reservation check, and opens
// a payment session. Any failure here is synchronous and side-effect free.
func (s *Service) BeginCheckout(ctx context.Context, req domain.Request) (_ string, err error) {
	logger := logging.FromContext(ctx).With(zap.String("use_case", useCaseBeginCheckout))

	ctx, span := s.tracer.Start(ctx, spanPrefix+"BeginCheckout",
		trace.WithAttributes(
			attribute.String("use_case", useCaseBeginCheckout),
			attribute.String("checkout.buyer_id", req.BuyerID),
			attribute.Int("checkout.items", len(req.Items)),
		),
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

		if s.metrics != nil && s.metrics.Requests != nil {
			s.metrics.Requests.WithLabelValues(useCaseBeginCheckout, outcome).Inc()
		}
		if s.metrics != nil && s.metrics.Duration != nil {
			s.metrics.Duration.WithLabelValues(useCaseBeginCheckout).Observe(lat)
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

	if err = req.Validate(); err != nil {
		outcome, statusText = "error", "VALIDATION_FAILED"
		return "", err
	}

	shortages, verr := s.ValidateReservation(ctx, req)
	if verr != nil {
		outcome, statusText = "error", "STOCK_READ_FAILED"
		err = verr
		return "", err
	}
	if len(shortages) > 0 {
		outcome, statusText = "error", "INSUFFICIENT_STOCK"
		err = &domain.ShortageError{Shortages: shortages}
		return "", err
	}

	sessionID, serr := s.gateway.CreateSession(ctx, payment.SessionInput{
		BuyerID:    req.BuyerID,
		Items:      req.Items,
		Total:      req.Total(),
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
	})
	if serr != nil {
		outcome, statusText = "error", "SESSION_CREATE_FAILED"
		err = serr
		return "", err
	}

	span.SetAttributes(attribute.String("checkout.session_id", sessionID))
	return sessionID, nil
}
