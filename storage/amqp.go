package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/eddielth/vmstats-trans/logger"
	"github.com/eddielth/vmstats-trans/transformer"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
)

// DefaultExchange is the topic exchange stats are published to.
const DefaultExchange = "vmstats"

// AMQPStorage publishes stats as JSON to a RabbitMQ topic exchange with the
// routing key vmstats.<device>.
type AMQPStorage struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      *logger.Logger
	mu       sync.Mutex
}

// NewAMQPStorage dials url and declares a durable topic exchange.
func NewAMQPStorage(url, exchange string, log *logger.Logger) (*AMQPStorage, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	log.Info("Connected to RabbitMQ, exchange %s declared", exchange)
	return &AMQPStorage{conn: conn, channel: ch, exchange: exchange, log: log}, nil
}

// RoutingKey returns the routing key used for device.
func RoutingKey(device string) string {
	return "vmstats." + device
}

// Name implements StorageBackend.
func (as *AMQPStorage) Name() string {
	return "amqp"
}

// Store publishes res.Stats.
func (as *AMQPStorage) Store(ctx context.Context, res transformer.Result) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	body, err := json.Marshal(res.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	err = as.channel.PublishWithContext(
		ctx,
		as.exchange,                // exchange
		RoutingKey(res.Stats.Name), // routing key
		false,                      // mandatory
		false,                      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    res.Stats.CollectedAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish stats: %w", err)
	}

	as.log.Debug("Published stats of %s to exchange %s", res.Stats.Name, as.exchange)
	return nil
}

// Close closes the channel and the connection.
func (as *AMQPStorage) Close() error {
	as.mu.Lock()
	defer as.mu.Unlock()

	var errs error
	if as.channel != nil {
		errs = multierr.Append(errs, as.channel.Close())
		as.channel = nil
	}
	if as.conn != nil {
		errs = multierr.Append(errs, as.conn.Close())
		as.conn = nil
	}
	return errs
}
