// Package bus turns the one-way RabbitMQ publish primitive into a
// synchronous, cancellable request/reply call.
//
// The client owns one long-lived connection, a publisher channel guarded
// by a mutex, and an exclusive auto-delete reply queue with a single
// consumer. Each call publishes with a fresh correlation id and replyTo
// set to the reply queue, then waits for the consumer to demultiplex the
// matching reply into its slot.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gamecloud/gateway/internal/config"
)

var tracer = otel.Tracer("gc-gateway-api/bus")

// Error kinds surfaced to callers. Publish failures are wrapped amqp
// errors and carry neither sentinel.
var (
	// ErrCancelled reports that the caller's context was cancelled while
	// waiting for the reply.
	ErrCancelled = errors.New("bus: call cancelled")

	// ErrTimeout reports that the caller's deadline expired while
	// waiting for the reply.
	ErrTimeout = errors.New("bus: call timed out")

	// ErrConnectionLost reports that the broker connection closed and
	// the client is no longer usable.
	ErrConnectionLost = errors.New("bus: broker connection lost")
)

// Caller is the request/reply contract the HTTP layer depends on.
// Implemented by *Client; tests substitute fakes.
type Caller interface {
	Call(ctx context.Context, queue string, payload []byte) ([]byte, error)
}

// Client is the RabbitMQ-backed Caller. Safe for concurrent use.
type Client struct {
	conn       *amqp.Connection
	pub        *amqp.Channel
	pubMu      sync.Mutex
	replyQueue string
	pending    *pendingCalls
	lost       atomic.Bool
}

// Dial connects to the broker, opens the publisher channel, and sets up
// the exclusive reply queue with its consumer.
func Dial(cfg config.RabbitMQ) (*Client, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s", cfg.Username, cfg.Password, cfg.Hostname)
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(cfg.DialTimeout()),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to broker at %s: %w", cfg.Hostname, err)
	}

	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}

	// Dedicated channel for the reply consumer so consuming never
	// contends with publishing.
	sub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}

	queue, err := sub.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare reply queue: %w", err)
	}

	deliveries, err := sub.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("consume reply queue: %w", err)
	}

	c := &Client{
		conn:       conn,
		pub:        pub,
		replyQueue: queue.Name,
		pending:    newPendingCalls(),
	}
	go c.consumeLoop(deliveries)
	go c.watchClose(conn.NotifyClose(make(chan *amqp.Error, 1)))

	log.Info().
		Str("host", cfg.Hostname).
		Str("reply_queue", queue.Name).
		Msg("Broker connection established")
	return c, nil
}

// Call publishes payload to queue and blocks until the correlated reply
// arrives or ctx is done. The client imposes no timeout of its own.
func (c *Client) Call(ctx context.Context, queue string, payload []byte) ([]byte, error) {
	if c.lost.Load() {
		return nil, ErrConnectionLost
	}

	corrID := uuid.NewString()
	slot := c.pending.register(corrID)

	ctx, span := tracer.Start(ctx, "bus.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", queue),
			attribute.String("messaging.message.conversation_id", corrID),
		),
	)
	defer span.End()

	c.pubMu.Lock()
	err := c.pub.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: corrID,
		ReplyTo:       c.replyQueue,
		Body:          payload,
	})
	c.pubMu.Unlock()
	if err != nil {
		c.pending.drop(corrID)
		return nil, fmt.Errorf("publish to %s: %w", queue, err)
	}

	return c.await(ctx, queue, corrID, slot)
}

// await blocks on the slot until the reply or cancellation wins. On
// cancellation the slot is removed first, so a late reply finds no
// pending call and is silently dropped by the consumer.
func (c *Client) await(ctx context.Context, queue, corrID string, slot <-chan result) ([]byte, error) {
	select {
	case res := <-slot:
		return res.body, res.err
	case <-ctx.Done():
		c.pending.drop(corrID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after publishing to %s", ErrTimeout, queue)
		}
		return nil, fmt.Errorf("%w while awaiting reply from %s", ErrCancelled, queue)
	}
}

// consumeLoop demultiplexes replies into their slots. Replies whose
// correlation id is unknown (cancelled calls, stray messages) are
// dropped.
func (c *Client) consumeLoop(deliveries <-chan amqp.Delivery) {
	for msg := range deliveries {
		if msg.CorrelationId == "" {
			continue
		}
		if !c.pending.resolve(msg.CorrelationId, msg.Body) {
			log.Debug().
				Str("correlation_id", msg.CorrelationId).
				Msg("Dropped reply with no pending call")
		}
	}
}

// watchClose marks the client unusable and fails every pending call
// when the connection drops. Recovery is restart-based: the process
// supervisor brings the gateway back with a fresh connection.
func (c *Client) watchClose(closed <-chan *amqp.Error) {
	err, ok := <-closed
	if !ok {
		return // graceful Close
	}
	c.lost.Store(true)
	log.Error().Err(err).Msg("Broker connection lost")
	c.pending.failAll(ErrConnectionLost)
}

// Close shuts the connection down and unblocks all pending callers.
func (c *Client) Close() error {
	c.lost.Store(true)
	c.pending.failAll(ErrConnectionLost)
	return c.conn.Close()
}
