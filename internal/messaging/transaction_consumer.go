package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	amqp "github.com/streadway/amqp"

	"github.com/ArthurMTX/Portfolium-sub001/internal/config"
	"github.com/ArthurMTX/Portfolium-sub001/internal/models"
)

// Invalidator receives ledger mutation notifications
type Invalidator interface {
	Invalidate(ctx context.Context, portfolioID string) (int, error)
}

// TransactionConsumer listens for transaction mutation events published by
// the transaction write path and busts the cached analytics of the affected
// portfolio. Invalidation, not TTL expiry, is what bounds staleness.
type TransactionConsumer struct {
	cfg     config.RabbitMQConfig
	service Invalidator
	logger  *logrus.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewTransactionConsumer connects to RabbitMQ and declares the exchange,
// queue and binding for transaction events
func NewTransactionConsumer(cfg config.RabbitMQConfig, service Invalidator, logger *logrus.Logger) (*TransactionConsumer, error) {
	c := &TransactionConsumer{
		cfg:     cfg,
		service: service,
		logger:  logger,
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	logger.Infof("✅ Transaction consumer initialized (queue: %s, routing key: %s)", cfg.Queue, cfg.RoutingKey)
	return c, nil
}

func (c *TransactionConsumer) connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if c.cfg.PrefetchCount > 0 {
		if err := channel.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	err = channel.ExchangeDeclare(
		c.cfg.Exchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := channel.QueueDeclare(
		c.cfg.Queue, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = channel.QueueBind(
		queue.Name,       // queue name
		c.cfg.RoutingKey, // routing key
		c.cfg.Exchange,   // exchange
		false,
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()

	return nil
}

// Start consumes transaction events in the background until ctx is cancelled.
// A dropped connection is redialed up to the configured attempt budget.
func (c *TransactionConsumer) Start(ctx context.Context) error {
	msgs, err := c.consume()
	if err != nil {
		return err
	}

	c.logger.Info("🔄 Transaction consumer started")

	go c.loop(ctx, msgs)
	return nil
}

func (c *TransactionConsumer) consume() (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	msgs, err := channel.Consume(
		c.cfg.Queue,       // queue
		c.cfg.ConsumerTag, // consumer tag
		false,             // auto-ack
		false,             // exclusive
		false,             // no-local
		false,             // no-wait
		nil,               // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return msgs, nil
}

func (c *TransactionConsumer) loop(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("🛑 Transaction consumer shutting down")
			return

		case msg, ok := <-msgs:
			if !ok {
				c.mu.Lock()
				closed := c.closed
				c.mu.Unlock()
				if closed {
					return
				}

				reconnected := c.reconnect(ctx)
				if reconnected == nil {
					return
				}
				msgs = reconnected
				continue
			}
			c.handle(ctx, msg)
		}
	}
}

// reconnect redials with a fixed delay between attempts. It returns nil when
// the budget is exhausted or the context ends; the consumer then stays down
// and the cache TTL becomes the staleness bound.
func (c *TransactionConsumer) reconnect(ctx context.Context) <-chan amqp.Delivery {
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		c.logger.Warnf("Connection lost, reconnect attempt %d/%d", attempt, c.cfg.MaxReconnectAttempts)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}

		if err := c.connect(); err != nil {
			c.logger.Errorf("Reconnect failed: %v", err)
			continue
		}
		msgs, err := c.consume()
		if err != nil {
			c.logger.Errorf("Re-registering consumer failed: %v", err)
			continue
		}

		c.logger.Info("🔄 Transaction consumer reconnected")
		return msgs
	}

	c.logger.Error("Reconnect budget exhausted, transaction consumer stopped")
	return nil
}

func (c *TransactionConsumer) handle(ctx context.Context, msg amqp.Delivery) {
	var event models.TransactionEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Errorf("Failed to unmarshal transaction event: %v", err)
		msg.Nack(false, false) // Malformed, do not requeue
		return
	}

	if event.PortfolioID == "" {
		c.logger.Warn("Transaction event without portfolio_id, discarding")
		msg.Nack(false, false)
		return
	}

	handleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	count, err := c.service.Invalidate(handleCtx, event.PortfolioID)
	if err != nil {
		c.logger.Errorf("Invalidation failed for portfolio %s: %v", event.PortfolioID, err)
		msg.Nack(false, true) // Requeue, the store may recover
		return
	}

	c.logger.WithFields(logrus.Fields{
		"portfolio_id": event.PortfolioID,
		"action":       event.Action,
		"entries":      count,
	}).Debug("📨 Processed transaction event")
	msg.Ack(false)
}

// Close closes the consumer channel and connection
func (c *TransactionConsumer) Close() error {
	c.mu.Lock()
	c.closed = true
	channel := c.channel
	conn := c.conn
	c.mu.Unlock()

	if channel != nil {
		if err := channel.Close(); err != nil {
			c.logger.Warnf("Error closing channel: %v", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Warnf("Error closing connection: %v", err)
			return err
		}
	}
	c.logger.Info("Transaction consumer closed")
	return nil
}
