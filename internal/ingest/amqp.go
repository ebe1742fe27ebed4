// Package ingest is the optional broker adapter: instead of the internal
// generator, transactions arrive from an AMQP queue fed by an external
// producer. Records are validated on the way in; bad ones increment a
// quality counter and are dropped.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/payops/autopilot/internal/model"
)

// Config identifies the broker endpoint.
type Config struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	Queue      string `yaml:"queue"`
	RoutingKey string `yaml:"routing_key"`
}

// Consumer reads transactions from the queue and hands valid ones to a
// sink.
type Consumer struct {
	cfg     Config
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *slog.Logger

	dropped atomic.Int64
}

// NewConsumer dials the broker and declares the exchange/queue topology.
func NewConsumer(cfg Config, log *slog.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ingest: connect broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ingest: open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("ingest: declare exchange: %w", err)
	}

	queue, err := channel.QueueDeclare(cfg.Queue, true, false, false, false, nil)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("ingest: declare queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("ingest: bind queue: %w", err)
	}

	return &Consumer{
		cfg:     cfg,
		conn:    conn,
		channel: channel,
		log:     log.With("component", "ingest"),
	}, nil
}

// Dropped returns the quality counter of rejected records.
func (c *Consumer) Dropped() int64 {
	return c.dropped.Load()
}

// Run consumes until ctx is cancelled, delivering valid transactions to
// sink. Invalid records are acked and dropped so they do not requeue
// forever.
func (c *Consumer) Run(ctx context.Context, sink func(model.Transaction)) error {
	msgs, err := c.channel.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("ingest: register consumer: %w", err)
	}
	c.log.Info("broker ingest started", "queue", c.cfg.Queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("ingest: message channel closed")
			}

			var txn model.Transaction
			if err := json.Unmarshal(msg.Body, &txn); err != nil {
				c.dropped.Add(1)
				c.log.Warn("dropping unparsable record", "error", err)
				msg.Ack(false)
				continue
			}
			if err := Validate(txn); err != nil {
				c.dropped.Add(1)
				c.log.Warn("dropping invalid record", "error", err)
				msg.Ack(false)
				continue
			}

			sink(txn)
			msg.Ack(false)
		}
	}
}

// Close closes the channel and connection.
func (c *Consumer) Close() error {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.log.Warn("closing channel", "error", err)
		}
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
