package rabbitmq

import (
	"context"

	"go.uber.org/zap"

	"github.com/minicart/fulfillment/internal/domain/notification"
)

// LogDispatcher is the fallback when AMQP is not configured: the receipt is
// written to the log so local runs still show the dispatch.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log.With(zap.String("component", "log_dispatcher"))}
}

func (d *LogDispatcher) SendReceipt(ctx context.Context, r notification.Receipt) error {
	_ = ctx
	d.log.Info("receipt_dispatched",
		zap.String("order_id", r.OrderID),
		zap.String("buyer_id", r.BuyerID),
		zap.String("customer_email", r.CustomerEmail),
		zap.Int64("total_amount", r.TotalAmount),
	)
	return nil
}
