package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/real-time-ressys/services/notification-service/internal/application/dispatch"
	"github.com/baechuer/real-time-ressys/services/notification-service/internal/metrics"
)

// Dispatcher is the application contract the consumer drives. It returns
// (processed, nil) on success, a terminal-marked error for dead-letter, a
// temporary-marked error for retry.
type Dispatcher interface {
	Process(ctx context.Context, body []byte, correlationID string) (bool, error)
}

// Publisher republishes copies of a delivery; an interface so unit tests can
// inject a fake without real AMQP channels.
type Publisher interface {
	PublishRetry(ctx context.Context, orig amqp.Delivery) error
	PublishDeadLetter(ctx context.Context, orig amqp.Delivery, reason string, cause error) error
}

// ErrConnectionLost signals that an established connection dropped. The
// consumer does not reconnect mid-flight; the supervising process restarts
// it from scratch.
var ErrConnectionLost = errors.New("rabbitmq connection lost")

// connectBackoff is the fixed wait between startup connection attempts.
const connectBackoff = 5 * time.Second

type Config struct {
	URL string

	MainExchange  string
	MainQueue     string
	RetryExchange string
	RetryQueue    string
	DLQExchange   string
	DLQQueue      string

	RoutingKey string
	Prefetch   int
	Tag        string

	MaxRetries int
	RetryDelay time.Duration
}

type Consumer struct {
	cfg        Config
	lg         zerolog.Logger
	dispatcher Dispatcher

	mu         sync.Mutex
	conn       *amqp.Connection
	chConsume  *amqp.Channel
	chPublish  *amqp.Channel
	deliveries <-chan amqp.Delivery
	pub        Publisher
}

func NewConsumer(cfg Config, d Dispatcher, lg zerolog.Logger) *Consumer {
	return &Consumer{
		cfg:        cfg,
		dispatcher: d,
		lg:         lg.With().Str("component", "rabbitmq_consumer").Logger(),
	}
}

// Run connects, declares the topology and consumes until the context is
// cancelled. Startup retries with a fixed backoff until the first successful
// connect; a later connection loss ends the loop with ErrConnectionLost.
func (c *Consumer) Run(ctx context.Context) error {
	if c.dispatcher == nil {
		return fmt.Errorf("nil dispatcher")
	}

	for {
		err := c.connectAndDeclare()
		if err == nil {
			break
		}
		if isPreconditionFailed(err) {
			return fmt.Errorf("topology precondition failed, existing entities are incompatible: %w", err)
		}
		c.lg.Error().Err(err).Dur("backoff", connectBackoff).Msg("broker connect failed; retrying")
		if !sleepOrDone(ctx, connectBackoff) {
			return nil
		}
	}
	defer c.closeConn()

	c.consumeLoop(ctx)

	if ctx.Err() != nil {
		c.lg.Info().Msg("consumer stopped (context cancelled)")
		return nil
	}
	return ErrConnectionLost
}

func (c *Consumer) connectAndDeclare() error {
	c.closeConn()

	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	chConsume, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("consume channel: %w", err)
	}

	chPublish, err := conn.Channel()
	if err != nil {
		_ = chConsume.Close()
		_ = conn.Close()
		return fmt.Errorf("publish channel: %w", err)
	}

	if err := c.declareTopology(chConsume); err != nil {
		c.closeAll(conn, chConsume, chPublish)
		return err
	}

	if c.cfg.Prefetch > 0 {
		if err := chConsume.Qos(c.cfg.Prefetch, 0, false); err != nil {
			c.closeAll(conn, chConsume, chPublish)
			return fmt.Errorf("qos: %w", err)
		}
	}

	dlv, err := chConsume.Consume(c.cfg.MainQueue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		c.closeAll(conn, chConsume, chPublish)
		return fmt.Errorf("consume: %w", err)
	}

	pub, err := NewCopyPublisher(chPublish, c.cfg.RetryExchange, c.cfg.DLQExchange, c.cfg.RoutingKey, c.lg)
	if err != nil {
		c.closeAll(conn, chConsume, chPublish)
		return fmt.Errorf("copy publisher: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.chConsume = chConsume
	c.chPublish = chPublish
	c.deliveries = dlv
	c.pub = pub
	c.mu.Unlock()

	c.lg.Info().
		Str("main_exchange", c.cfg.MainExchange).
		Str("main_queue", c.cfg.MainQueue).
		Str("routing_key", c.cfg.RoutingKey).
		Int("prefetch", c.cfg.Prefetch).
		Int("max_retries", c.cfg.MaxRetries).
		Dur("retry_delay", c.cfg.RetryDelay).
		Msg("rabbitmq consumer ready")

	return nil
}

// declareTopology declares the three exchange/queue pairs. All entities are
// durable direct exchanges bound with the single routing key; redeclaring an
// existing compatible entity is a no-op on the broker side.
//
//	main  -> main_queue   (worker input)
//	retry -> retry_queue  (TTL, dead-letters back to main)
//	dlq   -> dlq_queue    (terminal sink)
func (c *Consumer) declareTopology(ch *amqp.Channel) error {
	for _, ex := range []string{c.cfg.MainExchange, c.cfg.RetryExchange, c.cfg.DLQExchange} {
		if err := ch.ExchangeDeclare(ex, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("exchange declare (%s): %w", ex, err)
		}
	}

	if _, err := ch.QueueDeclare(c.cfg.MainQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("main queue declare: %w", err)
	}
	if err := ch.QueueBind(c.cfg.MainQueue, c.cfg.RoutingKey, c.cfg.MainExchange, false, nil); err != nil {
		return fmt.Errorf("main queue bind: %w", err)
	}

	retryArgs := amqp.Table{
		"x-message-ttl":             int64(c.cfg.RetryDelay / time.Millisecond),
		"x-dead-letter-exchange":    c.cfg.MainExchange,
		"x-dead-letter-routing-key": c.cfg.RoutingKey,
	}
	if _, err := ch.QueueDeclare(c.cfg.RetryQueue, true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("retry queue declare: %w", err)
	}
	if err := ch.QueueBind(c.cfg.RetryQueue, c.cfg.RoutingKey, c.cfg.RetryExchange, false, nil); err != nil {
		return fmt.Errorf("retry queue bind: %w", err)
	}

	if _, err := ch.QueueDeclare(c.cfg.DLQQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("dlq queue declare: %w", err)
	}
	if err := ch.QueueBind(c.cfg.DLQQueue, c.cfg.RoutingKey, c.cfg.DLQExchange, false, nil); err != nil {
		return fmt.Errorf("dlq queue bind: %w", err)
	}

	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case d, ok := <-c.deliveries:
			if !ok {
				c.lg.Warn().Msg("deliveries channel closed")
				return
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery drives the per-message state machine. Exactly one decision
// terminates each delivery: ack after success, ack after retry republish,
// ack after dead-letter republish, or no ack (broker redelivers).
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	start := time.Now()

	correlationID := d.CorrelationId
	if correlationID == "" {
		// Observational only; the synthesised id never leaves the logs.
		correlationID = uuid.NewString()
	}

	lg := c.lg.With().
		Str("correlation_id", correlationID).
		Str("message_id", d.MessageId).
		Logger()

	metrics.MessageReceived(c.cfg.MainQueue, d.RoutingKey)

	processed, err := c.dispatcher.Process(ctx, d.Body, correlationID)

	switch {
	case err == nil:
		_ = d.Ack(false)
		lg.Info().
			Bool("processed", processed).
			Dur("took", time.Since(start)).
			Msg("delivery acked")

	case dispatch.IsTerminal(err):
		c.toDeadLetter(ctx, d, lg, terminalReason(err), err)

	case dispatch.IsTransient(err):
		retries := retryCount(d.Headers)
		if retries < int64(c.cfg.MaxRetries) {
			if pubErr := c.pub.PublishRetry(ctx, d); pubErr != nil {
				lg.Error().Err(pubErr).Msg("retry republish failed; leaving delivery unacked")
				_ = d.Nack(false, true)
				return
			}
			_ = d.Ack(false)
			metrics.Retry(d.RoutingKey)
			lg.Warn().
				Err(err).
				Int64("retry_count", retries).
				Msg("transient failure; republished to retry exchange")
		} else {
			c.toDeadLetter(ctx, d, lg, "max_retries_exceeded", err)
		}

	default:
		// Neither marker matched. No decision is safe, so no ack: the
		// broker redelivers and the idempotency record, if any, suppresses
		// a double send.
		lg.Error().Err(err).Msg("unexpected dispatch error; leaving delivery unacked")
		_ = d.Nack(false, true)
	}
}

func (c *Consumer) toDeadLetter(ctx context.Context, d amqp.Delivery, lg zerolog.Logger, reason string, cause error) {
	if pubErr := c.pub.PublishDeadLetter(ctx, d, reason, cause); pubErr != nil {
		lg.Error().Err(pubErr).Str("reason", reason).Msg("dead-letter republish failed; leaving delivery unacked")
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
	metrics.DeadLettered(reason)
}

func terminalReason(err error) string {
	if kind := dispatch.Kind(err); kind != "" {
		return kind
	}
	return "non_retriable"
}

// retryCount derives the number of completed retry hops from the broker's
// x-death header. The first entry tracks the most recent dead-letter cycle;
// absence means a first delivery.
func retryCount(headers amqp.Table) int64 {
	if headers == nil {
		return 0
	}
	deaths, ok := headers["x-death"].([]any)
	if !ok || len(deaths) == 0 {
		return 0
	}
	first, ok := deaths[0].(amqp.Table)
	if !ok {
		return 0
	}
	switch v := first["count"].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

func isPreconditionFailed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "PRECONDITION_FAILED") || strings.Contains(msg, "INEQUIVALENT ARG")
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Consumer) closeAll(conn *amqp.Connection, a, b *amqp.Channel) {
	if b != nil {
		_ = b.Close()
	}
	if a != nil {
		_ = a.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Consumer) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chPublish != nil {
		_ = c.chPublish.Close()
		c.chPublish = nil
	}
	if c.chConsume != nil {
		_ = c.chConsume.Close()
		c.chConsume = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	c.deliveries = nil
	c.pub = nil
}
