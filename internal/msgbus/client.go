// Package msgbus adapts RabbitMQ for background job messaging.
//
// One topic exchange carries every job message; each message kind owns a
// durable queue with dead-lettering, a 24 h message TTL, and a bounded
// length that rejects publishes on overflow. Publisher confirms are on, so
// an overflow rejection surfaces to the caller instead of silently dropping
// the message.
package msgbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/metrics"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeadLetterQueue receives every message that expired, overflowed, or was
// rejected by a consumer.
const DeadLetterQueue = "dead_letter_queue"

const heartbeatInterval = 60 * time.Second

// Config carries broker connection settings.
type Config struct {
	URL            string
	Exchange       string        // topic exchange name, default "default"
	MessageTTL     time.Duration // per-queue x-message-ttl, default 24h
	MaxQueueLength int           // per-queue x-max-length, default 10000
	ConnectTimeout time.Duration // TCP dial timeout, default 30s
}

// Client is a lazy-connecting publisher and consumer. The publishing channel
// is created on first use and recreated whenever the connection or channel
// is found closed; consumers run on their own channels.
type Client struct {
	cfg Config

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	dialed bool
}

// NewClient builds a client without connecting. The first publish or consume
// dials the broker.
func NewClient(cfg Config) *Client {
	if cfg.Exchange == "" {
		cfg.Exchange = "default"
	}
	if cfg.MessageTTL <= 0 {
		cfg.MessageTTL = 24 * time.Hour
	}
	if cfg.MaxQueueLength <= 0 {
		cfg.MaxQueueLength = 10000
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &Client{cfg: cfg}
}

// PublishOptions carries the optional parts of the message contract.
type PublishOptions struct {
	CorrelationID string
	Delay         time.Duration // advisory hint, carried as a header in ms
	Priority      uint8         // advisory hint
}

// Publish sends one persistent JSON message for the given kind.
func (c *Client) Publish(ctx context.Context, kind Kind, payload interface{}) error {
	return c.PublishWithOptions(ctx, kind, payload, PublishOptions{})
}

// PublishWithOptions sends one persistent JSON message with correlation and
// delivery hints. A broker rejection (full queue) or connectivity failure
// comes back as a transient broker error; the message is not retried here
// because queue persistence is the recovery mechanism.
func (c *Client) PublishWithOptions(ctx context.Context, kind Kind, payload interface{}, opts PublishOptions) error {
	r, ok := routes[kind]
	if !ok {
		return errs.Validationf("msgbus: unknown message kind %d", int(kind))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errs.Validationf("msgbus: marshal %s message: %v", r.messageType, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.channelLocked()
	if err != nil {
		metrics.BrokerPublishedTotal.WithLabelValues(r.messageType, "error").Inc()
		return err
	}

	headers := amqp.Table{"messageType": r.messageType}
	if opts.Delay > 0 {
		headers["Delay"] = opts.Delay.Milliseconds()
	}
	if opts.Priority > 0 {
		headers["Priority"] = int32(opts.Priority)
	}

	pub := amqp.Publishing{
		MessageId:     uuid.NewString(),
		CorrelationId: opts.CorrelationID,
		Timestamp:     time.Now().UTC(),
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Priority:      opts.Priority,
		Headers:       headers,
		Body:          body,
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, c.cfg.Exchange, r.routingKey, false, false, pub)
	if err != nil {
		c.teardownLocked()
		metrics.BrokerPublishedTotal.WithLabelValues(r.messageType, "error").Inc()
		return errs.TransientBroker(err, "msgbus publish %s failed", r.messageType)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		metrics.BrokerPublishedTotal.WithLabelValues(r.messageType, "error").Inc()
		return errs.TransientBroker(err, "msgbus publish %s confirm interrupted", r.messageType)
	}
	if !acked {
		metrics.BrokerPublishedTotal.WithLabelValues(r.messageType, "rejected").Inc()
		return errs.TransientBroker(nil, "msgbus publish %s rejected by broker", r.messageType)
	}

	metrics.BrokerPublishedTotal.WithLabelValues(r.messageType, "ok").Inc()
	return nil
}

// PublishBatch sends messages one at a time and stops at the first failure,
// so the caller sees either full success or a single error naming the failed
// position.
func (c *Client) PublishBatch(ctx context.Context, kind Kind, payloads []interface{}) error {
	for i, p := range payloads {
		if err := c.Publish(ctx, kind, p); err != nil {
			return fmt.Errorf("batch message %d of %d: %w", i+1, len(payloads), err)
		}
	}
	return nil
}

// InboundMessage is one consumed delivery, decoupled from the wire library.
type InboundMessage struct {
	Kind          Kind
	MessageID     string
	CorrelationID string
	Body          []byte
	Redelivered   bool
}

// Handler processes one inbound message. A non-nil error rejects the message
// without requeue, which routes it to the dead-letter queue.
type Handler func(ctx context.Context, msg InboundMessage) error

// Consume runs a delivery loop for one kind's queue until ctx is cancelled
// (returns nil) or the broker drops the connection (returns a transient
// error so the caller can back off and retry).
func (c *Client) Consume(ctx context.Context, kind Kind, prefetch int, handler Handler) error {
	r, ok := routes[kind]
	if !ok {
		return errs.Validationf("msgbus: unknown message kind %d", int(kind))
	}
	if prefetch <= 0 {
		prefetch = 1
	}

	c.mu.Lock()
	_, err := c.channelLocked()
	conn := c.conn
	c.mu.Unlock()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return errs.TransientBroker(err, "msgbus consumer channel for %s failed", r.queue)
	}
	defer ch.Close()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return errs.TransientBroker(err, "msgbus qos for %s failed", r.queue)
	}
	deliveries, err := ch.Consume(r.queue, "", false, false, false, false, nil)
	if err != nil {
		return errs.TransientBroker(err, "msgbus consume %s failed", r.queue)
	}

	logging.Info("Consuming %s (prefetch %d)", r.queue, prefetch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, open := <-deliveries:
			if !open {
				return errs.TransientBroker(nil, "msgbus delivery stream for %s closed", r.queue)
			}
			c.dispatch(ctx, kind, d, handler)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, kind Kind, d amqp.Delivery, handler Handler) {
	msg := InboundMessage{
		Kind:          kind,
		MessageID:     d.MessageId,
		CorrelationID: d.CorrelationId,
		Body:          d.Body,
		Redelivered:   d.Redelivered,
	}
	if mt, ok := d.Headers["messageType"].(string); ok {
		if headerKind, known := KindForMessageType(mt); known {
			msg.Kind = headerKind
		}
	}

	if err := handler(ctx, msg); err != nil {
		logging.Error("Handler for %s message %s failed: %v", msg.Kind, msg.MessageID, err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			logging.Error("Nack for %s failed: %v", msg.MessageID, nackErr)
		}
		metrics.BrokerConsumedTotal.WithLabelValues(kind.String(), "failed").Inc()
		return
	}
	if ackErr := d.Ack(false); ackErr != nil {
		logging.Error("Ack for %s failed: %v", msg.MessageID, ackErr)
	}
	metrics.BrokerConsumedTotal.WithLabelValues(kind.String(), "ok").Inc()
}

// Close disposes the channel then the connection, logging rather than
// propagating dispose failures.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	logging.Info("Message bus closed")
}

// Ping verifies the broker is reachable, dialing if the client has not
// connected yet. Dial timeouts apply, so this belongs in startup paths, not
// request paths.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.channelLocked()
	return err
}

// Connected reports whether a live connection is currently held. It never
// dials: a client that has not published yet reports false until something
// establishes the connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed() && c.ch != nil && !c.ch.IsClosed()
}

// channelLocked returns a live confirmed channel, dialing or re-dialing as
// needed. Callers must hold c.mu.
func (c *Client) channelLocked() (*amqp.Channel, error) {
	if c.conn != nil && !c.conn.IsClosed() && c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}
	c.teardownLocked()

	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{
		Heartbeat: heartbeatInterval,
		Dial:      amqp.DefaultDial(c.cfg.ConnectTimeout),
	})
	if err != nil {
		return nil, errs.TransientBroker(err, "msgbus dial failed")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errs.TransientBroker(err, "msgbus channel open failed")
	}

	ch, err = c.declareTopology(conn, ch)
	if err != nil {
		_ = conn.Close()
		return nil, errs.TransientBroker(err, "msgbus topology declaration failed")
	}

	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, errs.TransientBroker(err, "msgbus confirm mode failed")
	}

	if c.dialed {
		metrics.BrokerReconnectsTotal.Inc()
		logging.Info("Message bus reconnected")
	} else {
		logging.Info("Message bus connected: exchange=%s", c.cfg.Exchange)
	}
	c.dialed = true
	c.conn = conn
	c.ch = ch
	return ch, nil
}

// declareTopology sets up the exchange, dead-letter pair, and one queue per
// kind. A queue that already exists with different arguments is kept: the
// precondition failure closes the channel, so a fresh one is opened and
// declaration continues.
func (c *Client) declareTopology(conn *amqp.Connection, ch *amqp.Channel) (*amqp.Channel, error) {
	dlx := c.cfg.Exchange + ".dlx"

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", c.cfg.Exchange, err)
	}
	if err := ch.ExchangeDeclare(dlx, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", dlx, err)
	}
	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", DeadLetterQueue, err)
	}
	if err := ch.QueueBind(DeadLetterQueue, "#", dlx, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue %s: %w", DeadLetterQueue, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange": dlx,
		"x-message-ttl":          c.cfg.MessageTTL.Milliseconds(),
		"x-max-length":           int32(c.cfg.MaxQueueLength),
		"x-overflow":             "reject-publish",
	}
	for _, kind := range AllKinds() {
		r := routes[kind]
		if _, err := ch.QueueDeclare(r.queue, true, false, false, false, args); err != nil {
			if !isPreconditionFailed(err) {
				return nil, fmt.Errorf("declare queue %s: %w", r.queue, err)
			}
			logging.Warn("Queue %s exists with divergent arguments; using existing declaration", r.queue)
			ch, err = conn.Channel()
			if err != nil {
				return nil, fmt.Errorf("reopen channel after %s: %w", r.queue, err)
			}
		}
		if err := ch.QueueBind(r.queue, r.routingKey, c.cfg.Exchange, false, nil); err != nil {
			return nil, fmt.Errorf("bind queue %s: %w", r.queue, err)
		}
	}
	return ch, nil
}

func (c *Client) teardownLocked() {
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			logging.Debug("Channel dispose: %v", err)
		}
		c.ch = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			logging.Debug("Connection dispose: %v", err)
		}
		c.conn = nil
	}
}

func isPreconditionFailed(err error) bool {
	var ae *amqp.Error
	return errors.As(err, &ae) && ae.Code == amqp.PreconditionFailed
}
