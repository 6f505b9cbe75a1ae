package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appcheckout "github.com/minicart/fulfillment/internal/application/checkout"
	"github.com/minicart/fulfillment/internal/application/fulfillment"
	domaincheckout "github.com/minicart/fulfillment/internal/domain/checkout"
	"github.com/minicart/fulfillment/internal/domain/inventory"
	"github.com/minicart/fulfillment/internal/domain/order"
	"github.com/minicart/fulfillment/internal/domain/payment"
)

const signatureHeader = "X-Gateway-Signature"

type Handler struct {
	checkout   *appcheckout.Service
	reconciler *fulfillment.Reconciler
	ledger     order.Ledger
	store      inventory.Store
	log        *zap.Logger
}

func NewHandler(
	checkout *appcheckout.Service,
	reconciler *fulfillment.Reconciler,
	ledger order.Ledger,
	store inventory.Store,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		checkout:   checkout,
		reconciler: reconciler,
		ledger:     ledger,
		store:      store,
		log:        logger.With(zap.String("component", "http_server")),
	}
}

// Router wires routes through the middleware chain:
// trace -> request logger -> metrics -> access log -> handler.
func (h *Handler) Router(metrics *HTTPMetrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		gin.Recovery(),
		TraceMiddleware(),
		RequestLoggerMiddleware(h.log),
		MetricsMiddleware(metrics),
		AccessLogMiddleware(),
	)

	r.POST("/checkout/session", h.handleBeginCheckout)
	r.POST("/webhooks/payment", h.handlePaymentWebhook)
	r.GET("/orders/:id", h.handleGetOrder)
	r.POST("/inventory/replenish", h.handleReplenish)
	r.GET("/health", h.handleHealth)

	return r
}

func (h *Handler) handleBeginCheckout(c *gin.Context) {
	var req domaincheckout.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID, err := h.checkout.BeginCheckout(c.Request.Context(), req)
	if err != nil {
		var shortage *domaincheckout.ShortageError
		if errors.As(err, &shortage) {
			c.JSON(http.StatusConflict, gin.H{
				"error":     "insufficient stock",
				"shortages": shortage.Shortages,
			})
			return
		}
		if isValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

// handlePaymentWebhook reads the raw body before any JSON parsing: the
// provider signature covers the exact bytes on the wire, and parsing then
// re-serializing would break verification.
func (h *Handler) handlePaymentWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	result, err := h.reconciler.HandleDelivery(c.Request.Context(), payload, c.GetHeader(signatureHeader))
	if err != nil {
		if errors.Is(err, payment.ErrBadSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		// 5xx tells the gateway to retry the delivery later.
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"received": true}
	if result.OrderID != "" {
		resp["order_id"] = result.OrderID
	}
	c.JSON(http.StatusOK, resp)
}

type orderResponse struct {
	OrderID         string               `json:"orderId"`
	UserID          string               `json:"userId"`
	Items           []order.LineItem     `json:"items"`
	TotalAmount     int64                `json:"totalAmount"`
	PaymentStatus   order.PaymentStatus  `json:"paymentStatus"`
	SessionID       string               `json:"sessionId"`
	CustomerEmail   string               `json:"customerEmail"`
	ShippingAddress string               `json:"shippingAddress"`
	Fulfillment     order.Phase          `json:"fulfillment"`
	Anomalies       []order.StockAnomaly `json:"anomalies,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

func (h *Handler) handleGetOrder(c *gin.Context) {
	o, err := h.ledger.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, orderResponse{
		OrderID:         o.ID,
		UserID:          o.BuyerID,
		Items:           o.Items,
		TotalAmount:     o.TotalAmount,
		PaymentStatus:   o.PaymentStatus,
		SessionID:       o.SessionID,
		CustomerEmail:   o.CustomerEmail,
		ShippingAddress: o.ShippingAddress,
		Fulfillment:     o.Fulfillment,
		Anomalies:       o.Anomalies,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	})
}

type replenishRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

func (h *Handler) handleReplenish(c *gin.Context) {
	var req replenishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	newStock, err := h.store.Increase(c.Request.Context(), req.ProductID, req.Quantity)
	if err != nil {
		if errors.Is(err, inventory.ErrInvalidQuantity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"product_id": req.ProductID, "stock": newStock})
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "fulfillment"})
}

func isValidationError(err error) bool {
	for _, v := range []error{
		domaincheckout.ErrNoItems,
		domaincheckout.ErrMissingBuyer,
		domaincheckout.ErrMissingProductID,
		domaincheckout.ErrInvalidQuantity,
		domaincheckout.ErrInvalidPrice,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}
