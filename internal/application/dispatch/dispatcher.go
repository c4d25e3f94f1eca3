package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/real-time-ressys/services/notification-service/internal/contracts/event"
	"github.com/baechuer/real-time-ressys/services/notification-service/internal/metrics"
)

// Renderer produces a rendered email body from a named template.
type Renderer interface {
	Render(name string, data any) (string, error)
}

// Gateway delivers a rendered email.
type Gateway interface {
	Send(ctx context.Context, to, subject, htmlBody, correlationID string) error
}

// Store is the idempotency capability the dispatcher needs.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// HandlerFunc processes one validated event. Implementations compose the
// renderer and the gateway; they never recover from errors themselves.
type HandlerFunc func(ctx context.Context, evt *event.Envelope, correlationID string) error

const (
	idempotencyPrefix = "idempotency:"
	processedSentinel = "processed"
)

// Dispatcher routes validated events to per-type handlers behind an
// idempotency check. The registry is fixed at construction.
type Dispatcher struct {
	registry map[event.Type]HandlerFunc
	store    Store
	ttl      time.Duration
	lg       zerolog.Logger
}

func NewDispatcher(renderer Renderer, gateway Gateway, store Store, ttl time.Duration, lg zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		registry: make(map[event.Type]HandlerFunc),
		store:    store,
		ttl:      ttl,
		lg:       lg.With().Str("component", "dispatcher").Logger(),
	}
	d.registry[event.TypeInvoiceDueSoon] = emailHandler(renderer, gateway, "invoice_due_soon.html", "Your invoice is due soon")
	d.registry[event.TypeInvoiceOverdue] = emailHandler(renderer, gateway, "invoice_overdue.html", "Your invoice is overdue")
	d.registry[event.TypeProfileDeletionScheduled] = emailHandler(renderer, gateway, "profile_deletion_scheduled.html", "Your account is scheduled for deletion")
	return d
}

// Register adds or replaces the handler for an event type. It is the sole
// extension point and must be called before the consumer starts.
func (d *Dispatcher) Register(t event.Type, h HandlerFunc) {
	d.registry[t] = h
}

// Process parses and handles one message body. It returns (true, nil) when a
// handler ran to completion, (false, nil) when the message was a duplicate,
// and a classified error otherwise.
//
// The idempotency record is committed only after the handler succeeds. A
// crash between a successful send and the commit yields one duplicate email
// on redelivery; committing earlier would risk suppressing a message whose
// send never happened.
func (d *Dispatcher) Process(ctx context.Context, body []byte, correlationID string) (bool, error) {
	evt, err := event.Parse(body)
	if err != nil {
		return false, err
	}

	lg := d.lg.With().
		Str("message_id", evt.MessageID.String()).
		Str("event_type", string(evt.EventType)).
		Str("correlation_id", correlationID).
		Logger()

	key := idempotencyPrefix + evt.MessageID.String()

	seen, err := d.store.Exists(ctx, key)
	if err != nil {
		return false, transient("idempotency check failed", err)
	}
	if seen {
		lg.Info().Msg("duplicate message; skipping")
		metrics.IdempotencyHit()
		return false, nil
	}

	handler, ok := d.registry[evt.EventType]
	if !ok {
		// Parse already rejects unregistered types; this guards handlers
		// removed from the registry after a schema was added.
		return false, &event.UnknownEventTypeError{EventType: string(evt.EventType)}
	}

	start := time.Now()
	if err := handler(ctx, evt, correlationID); err != nil {
		metrics.MessageProcessed(string(evt.EventType), "error")
		return false, err
	}
	metrics.ProcessingDuration(string(evt.EventType), time.Since(start))

	if err := d.store.Set(ctx, key, processedSentinel, d.ttl); err != nil {
		// The send succeeded but the record is missing; without it the ack
		// would break the duplicate-suppression contract, so force a retry.
		return false, transient("idempotency commit failed", err)
	}

	metrics.MessageProcessed(string(evt.EventType), "success")
	lg.Info().Msg("event processed")
	return true, nil
}

func emailHandler(renderer Renderer, gateway Gateway, templateName, subject string) HandlerFunc {
	return func(ctx context.Context, evt *event.Envelope, correlationID string) error {
		body, err := renderer.Render(templateName, evt)
		if err != nil {
			metrics.EmailSent(templateName, "render_error")
			return err
		}
		if err := gateway.Send(ctx, evt.Recipient.Email, subject, body, correlationID); err != nil {
			metrics.EmailSent(templateName, "error")
			return err
		}
		metrics.EmailSent(templateName, "success")
		return nil
	}
}
