package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	appcheckout "github.com/minicart/fulfillment/internal/application/checkout"
	"github.com/minicart/fulfillment/internal/application/fulfillment"
	"github.com/minicart/fulfillment/internal/config"
	"github.com/minicart/fulfillment/internal/domain/inventory"
	"github.com/minicart/fulfillment/internal/domain/notification"
	"github.com/minicart/fulfillment/internal/domain/order"
	"github.com/minicart/fulfillment/internal/domain/payment"
	"github.com/minicart/fulfillment/internal/infrastructure/gateway"
	"github.com/minicart/fulfillment/internal/infrastructure/id"
	"github.com/minicart/fulfillment/internal/infrastructure/memory"
	"github.com/minicart/fulfillment/internal/infrastructure/postgres"
	"github.com/minicart/fulfillment/internal/infrastructure/rabbitmq"
	"github.com/minicart/fulfillment/internal/infrastructure/redisstore"
	httppresentation "github.com/minicart/fulfillment/internal/presentation/http"
	"github.com/minicart/fulfillment/internal/pkg/logging"
	"github.com/minicart/fulfillment/internal/pkg/retry"
)

func main() {
	cfg := config.Load()

	baseLogger := logging.Must(cfg.ServiceName, cfg.Env)
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	usecaseRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usecase_requests_total",
			Help: "Total number of use case invocations.",
		},
		[]string{"use_case", "outcome"},
	)
	usecaseDurations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "usecase_duration_seconds",
			Help:    "Duration of use case execution in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"use_case"},
	)
	fulfillmentEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_events_total",
			Help: "Webhook deliveries by event kind and outcome.",
		},
		[]string{"type", "outcome"},
	)
	stockConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stock_conflicts_total",
		Help: "Post-payment decrements clamped at zero.",
	})
	notificationFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Receipt dispatch failures.",
	})
	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpDurations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP request handling in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	prometheus.MustRegister(
		usecaseRequests, usecaseDurations,
		fulfillmentEvents, stockConflicts, notificationFailures,
		httpRequests, httpDurations,
	)

	store := buildInventoryStore(cfg, baseLogger)
	ledger := buildOrderLedger(ctx, cfg, baseLogger)
	dispatcher, closeDispatcher := buildDispatcher(cfg, baseLogger)
	defer closeDispatcher()
	gw := buildGateway(cfg, baseLogger)

	checkoutService := appcheckout.NewService(
		store, gw, cfg.SuccessURL, cfg.CancelURL, baseLogger,
		&appcheckout.Metrics{Requests: usecaseRequests, Duration: usecaseDurations},
	)
	reconciler := fulfillment.NewReconciler(
		gw, store, ledger, dispatcher, id.NewUUIDGenerator(),
		retry.Policy{Attempts: cfg.RetryAttempts, Base: cfg.RetryBase, Max: time.Second},
		baseLogger,
		&fulfillment.Metrics{
			Requests:             usecaseRequests,
			Duration:             usecaseDurations,
			Events:               fulfillmentEvents,
			StockConflicts:       stockConflicts,
			NotificationFailures: notificationFailures,
		},
	)

	handler := httppresentation.NewHandler(checkoutService, reconciler, ledger, store, baseLogger)
	router := handler.Router(&httppresentation.HTTPMetrics{Requests: httpRequests, Duration: httpDurations})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		baseLogger.Info("http_server_start", zap.String("addr", server.Addr))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Error("http_server_error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("http_server_shutdown_error", zap.Error(err))
	} else {
		baseLogger.Info("http_server_stopped")
	}
}

func buildInventoryStore(cfg config.Config, logger *zap.Logger) inventory.Store {
	if cfg.RedisAddr != "" {
		logger.Info("inventory_store_redis", zap.String("addr", cfg.RedisAddr))
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return redisstore.NewInventoryStore(client)
	}
	logger.Info("inventory_store_memory")
	return memory.NewInventoryStore()
}

func buildOrderLedger(ctx context.Context, cfg config.Config, logger *zap.Logger) order.Ledger {
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres_connect_failed", zap.Error(err))
		}
		logger.Info("order_ledger_postgres")
		return postgres.NewOrderLedger(pool)
	}
	logger.Info("order_ledger_memory")
	return memory.NewOrderLedger()
}

func buildDispatcher(cfg config.Config, logger *zap.Logger) (notification.Dispatcher, func()) {
	if cfg.AMQPURL != "" {
		conn, ch, err := rabbitmq.SetupConn(cfg.AMQPURL)
		if err != nil {
			logger.Fatal("rabbitmq_connect_failed", zap.Error(err))
		}
		logger.Info("receipt_dispatcher_amqp")
		return rabbitmq.NewDispatcher(ch), func() {
			_ = ch.Close()
			_ = conn.Close()
		}
	}
	logger.Info("receipt_dispatcher_log")
	return rabbitmq.NewLogDispatcher(logger), func() {}
}

func buildGateway(cfg config.Config, logger *zap.Logger) payment.Gateway {
	if cfg.GatewayMode == "fake" {
		logger.Info("payment_gateway_fake")
		return gateway.NewFake(cfg.WebhookSecret)
	}
	logger.Info("payment_gateway_http", zap.String("base_url", cfg.GatewayBaseURL))
	return gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.WebhookSecret)
}
