package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/minicart/fulfillment/internal/domain/notification"
)

const (
	ExchangeName = "shop_notifications"
	ExchangeType = "topic"
)

// SetupConn dials RabbitMQ and declares the notifications exchange, retrying
// briefly to ride out container startup ordering.
func SetupConn(url string) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	return conn, ch, nil
}

type dispatcher struct {
	ch *amqp.Channel
}

// NewDispatcher creates a receipt dispatcher that publishes receipt documents
// for the rendering/delivery workers consuming the notifications exchange.
func NewDispatcher(ch *amqp.Channel) notification.Dispatcher {
	return &dispatcher{ch: ch}
}

func (d *dispatcher) SendReceipt(ctx context.Context, r notification.Receipt) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("could not marshal receipt: %w", err)
	}

	// Routing key: receipt.<buyer id>
	routingKey := fmt.Sprintf("receipt.%s", r.BuyerID)

	return d.ch.PublishWithContext(ctx,
		ExchangeName, // exchange
		routingKey,   // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   r.OrderID,
			Body:        body,
		},
	)
}
