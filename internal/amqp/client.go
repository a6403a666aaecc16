// Package amqp carries the sync traffic between the bot and the mirror
// worker over RabbitMQ. One durable direct exchange, one durable queue,
// routing key equal to the queue name.
package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"chequebot/internal/core"
)

type Client struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	exchange string
	queue    string
}

func NewClient(url, exchange, queue string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", queue, err)
	}
	if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue %q: %w", queue, err)
	}

	return &Client{conn: conn, ch: ch, exchange: exchange, queue: queue}, nil
}

func (c *Client) Close() error {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// PublishReceiptSync enqueues a mirror request. Persistent delivery; a
// broker restart must not lose sync work.
func (c *Client) PublishReceiptSync(ctx context.Context, msg ReceiptSyncMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("encode receipt sync message: %w", err)
	}

	err = c.ch.PublishWithContext(ctx, c.exchange, c.queue, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    msg.Timestamp,
			Body:         body,
		})
	if err != nil {
		return core.Transient("publish receipt sync", err)
	}
	slog.InfoContext(ctx, "Receipt sync enqueued",
		"user_id", msg.UserID, "receipt_id", msg.ReceiptID)
	return nil
}

// ConsumeReceiptSync delivers queued sync requests to handler until ctx is
// cancelled. Transient handler failures requeue the message; everything
// else is dropped after logging, since a poison message would otherwise
// loop forever.
func (c *Client) ConsumeReceiptSync(ctx context.Context, handler func(context.Context, ReceiptSyncMessage) error) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %q: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %q closed", c.queue)
			}
			msg, err := ReceiptSyncFromJSON(d.Body)
			if err != nil {
				slog.WarnContext(ctx, "Dropping malformed sync message", "error", err)
				d.Nack(false, false)
				continue
			}
			if err := handler(ctx, msg); err != nil {
				requeue := core.IsTransient(err)
				slog.ErrorContext(ctx, "Sync handler failed",
					"receipt_id", msg.ReceiptID, "requeue", requeue, "error", err)
				d.Nack(false, requeue)
				continue
			}
			d.Ack(false)
		}
	}
}
