package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Client publishes events to a durable topic exchange (routing key = event
// type) and consumes them from a durable queue bound to every type.
type Client struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	queue    string
	log      *zap.Logger
}

func NewClient(url, exchange, queue string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	c := &Client{conn: conn, channel: channel, exchange: exchange, queue: queue, log: logger}
	if err := c.setup(); err != nil {
		c.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	return c, nil
}

func (c *Client) setup() error {
	if err := c.channel.ExchangeDeclare(
		c.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := c.channel.QueueDeclare(
		c.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := c.channel.QueueBind(c.queue, "#", c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	// One unacked message at a time keeps notification writes ordered.
	return c.channel.Qos(1, 0, false)
}

// Publish sends e as a persistent JSON message.
func (c *Client) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = c.channel.PublishWithContext(ctx,
		c.exchange, // exchange
		e.Type,     // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    e.ID,
			Timestamp:    e.OccurredAt,
			Type:         e.Type,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	c.log.Debug("published event", zap.String("type", e.Type), zap.String("id", e.ID), zap.String("exchange", c.exchange))
	return nil
}

// Handler processes one consumed event. Returning an error requeues it.
type Handler func(ctx context.Context, e Event) error

// Consume delivers queued events to handler until ctx is cancelled or the
// channel closes.
func (c *Client) Consume(ctx context.Context, handler Handler) error {
	msgs, err := c.channel.Consume(
		c.queue, // queue
		"",      // consumer
		false,   // auto-ack (we ack by hand)
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	c.log.Info("consuming events", zap.String("queue", c.queue))
	for {
		select {
		case <-ctx.Done():
			c.log.Info("stopping event consumption", zap.Error(ctx.Err()))
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			handleDelivery(ctx, c.log, d, handler)
		}
	}
}

// handleDelivery acks handled events, requeues events the handler failed on
// and drops messages that are not events at all.
func handleDelivery(ctx context.Context, log *zap.Logger, d amqp091.Delivery, handler Handler) {
	e, err := FromJSON(d.Body)
	if err != nil {
		log.Error("dropping malformed event", zap.Error(err), zap.String("message_id", d.MessageId))
		_ = d.Nack(false, false)
		return
	}
	if err := handler(ctx, e); err != nil {
		log.Error("event handler failed", zap.Error(err), zap.String("type", e.Type), zap.String("id", e.ID))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
