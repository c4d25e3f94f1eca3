package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// publishWait bounds how long a publish waits for a broker confirm or a
// mandatory return before the delivery is treated as failed.
const publishWait = 250 * time.Millisecond

// CopyPublisher republishes a received delivery to the retry or dead-letter
// exchange. The copy preserves body, headers, content type, correlation id
// and persistent delivery mode, so the broker-maintained x-death history
// stays intact across hops.
type CopyPublisher struct {
	ch *amqp.Channel
	lg zerolog.Logger

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return

	retryExchange string
	dlqExchange   string
	routingKey    string
}

func NewCopyPublisher(ch *amqp.Channel, retryExchange, dlqExchange, routingKey string, lg zerolog.Logger) (*CopyPublisher, error) {
	if ch == nil {
		return nil, fmt.Errorf("nil channel")
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("confirm mode: %w", err)
	}

	p := &CopyPublisher{
		ch:            ch,
		lg:            lg.With().Str("component", "copy_publisher").Logger(),
		retryExchange: retryExchange,
		dlqExchange:   dlqExchange,
		routingKey:    routingKey,
	}

	// Registration must happen after Confirm.
	p.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 32))
	p.returnCh = ch.NotifyReturn(make(chan amqp.Return, 32))

	return p, nil
}

// PublishRetry sends a copy to the retry exchange. The bound retry queue
// holds it for its TTL and dead-letters it back to the main exchange.
func (p *CopyPublisher) PublishRetry(ctx context.Context, orig amqp.Delivery) error {
	if err := p.publishCopy(ctx, p.retryExchange, orig); err != nil {
		return fmt.Errorf("publish retry: %w", err)
	}
	return nil
}

// PublishDeadLetter sends a copy to the dead-letter exchange for human
// inspection. The reason and cause are logged, not written into the copy:
// the dead-lettered message must stay byte-identical to the original.
func (p *CopyPublisher) PublishDeadLetter(ctx context.Context, orig amqp.Delivery, reason string, cause error) error {
	if err := p.publishCopy(ctx, p.dlqExchange, orig); err != nil {
		return fmt.Errorf("publish dead-letter: %w", err)
	}
	p.lg.Error().
		Str("reason", reason).
		Err(cause).
		Str("message_id", orig.MessageId).
		Msg("message dead-lettered")
	return nil
}

func (p *CopyPublisher) publishCopy(ctx context.Context, exchange string, orig amqp.Delivery) error {
	seq := p.ch.GetNextPublishSeqNo()

	pub := amqp.Publishing{
		ContentType:   orig.ContentType,
		Body:          orig.Body,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now(),
		Headers:       copyHeaders(orig.Headers),
		CorrelationId: orig.CorrelationId,
		MessageId:     orig.MessageId,
	}

	// mandatory=true so NO_ROUTE surfaces on the return channel instead of
	// the copy vanishing silently.
	if err := p.ch.PublishWithContext(ctx, exchange, p.routingKey, true, false, pub); err != nil {
		return err
	}
	return p.waitAckOrReturn(ctx, exchange, seq)
}

// waitAckOrReturn blocks until the confirmation for publish sequence seq
// arrives. Confirms for earlier sequences are drained and ignored: they
// belong to publishes that already timed out and were treated as failed, and
// crediting them to this publish would confirm the wrong message.
func (p *CopyPublisher) waitAckOrReturn(ctx context.Context, exchange string, seq uint64) error {
	timer := time.NewTimer(publishWait)
	defer timer.Stop()

	for {
		select {
		case r := <-p.returnCh:
			return fmt.Errorf("publish returned: reply=%d text=%q exchange=%q rk=%q",
				r.ReplyCode, r.ReplyText, r.Exchange, r.RoutingKey)

		case c := <-p.confirmCh:
			if c.DeliveryTag < seq {
				p.lg.Warn().
					Uint64("confirm_tag", c.DeliveryTag).
					Uint64("want_tag", seq).
					Msg("dropping late confirm from a timed-out publish")
				continue
			}
			if !c.Ack {
				return fmt.Errorf("publish nacked by broker (exchange=%q rk=%q)", exchange, p.routingKey)
			}
			return nil

		case <-timer.C:
			return errors.New("publish wait timeout (no confirm/return)")

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func copyHeaders(in amqp.Table) amqp.Table {
	out := amqp.Table{}
	for k, v := range in {
		out[k] = v
	}
	return out
}
