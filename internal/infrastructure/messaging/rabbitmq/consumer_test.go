package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ---- fakes ----

type fakeAcker struct {
	acks  int
	nacks int

	lastNackRequeue bool
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error { a.acks++; return nil }
func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks++
	a.lastNackRequeue = requeue
	return nil
}
func (a *fakeAcker) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

type fakeDispatcher struct {
	processed bool
	err       error

	calls             int
	lastBody          []byte
	lastCorrelationID string
}

func (d *fakeDispatcher) Process(ctx context.Context, body []byte, correlationID string) (bool, error) {
	d.calls++
	d.lastBody = body
	d.lastCorrelationID = correlationID
	return d.processed, d.err
}

type fakePublisher struct {
	retryCalls []amqp.Delivery
	dlqCalls   []struct {
		d      amqp.Delivery
		reason string
	}
	retryErr error
	dlqErr   error
}

func (p *fakePublisher) PublishRetry(ctx context.Context, orig amqp.Delivery) error {
	if p.retryErr != nil {
		return p.retryErr
	}
	p.retryCalls = append(p.retryCalls, orig)
	return nil
}

func (p *fakePublisher) PublishDeadLetter(ctx context.Context, orig amqp.Delivery, reason string, cause error) error {
	if p.dlqErr != nil {
		return p.dlqErr
	}
	p.dlqCalls = append(p.dlqCalls, struct {
		d      amqp.Delivery
		reason string
	}{d: orig, reason: reason})
	return nil
}

type permErr struct{ msg string }

func (e *permErr) Error() string   { return e.msg }
func (e *permErr) Permanent() bool { return true }
func (e *permErr) Kind() string    { return "schema_validation" }

type tempErr struct{ msg string }

func (e *tempErr) Error() string   { return e.msg }
func (e *tempErr) Temporary() bool { return true }

// ---- helpers ----

func newTestConsumer(d Dispatcher, pub Publisher) *Consumer {
	c := NewConsumer(Config{
		URL:           "amqp://unused",
		MainExchange:  "notifications",
		MainQueue:     "notifications.q",
		RetryExchange: "notifications.retry",
		RetryQueue:    "notifications.retry.q",
		DLQExchange:   "notifications.dlq",
		DLQQueue:      "notifications.dlq.q",
		RoutingKey:    "notification.event",
		Prefetch:      10,
		Tag:           "t",
		MaxRetries:    3,
		RetryDelay:    30 * time.Second,
	}, d, zerolog.Nop())

	// Unit tests inject the publisher directly; connectAndDeclare is not run.
	c.pub = pub
	return c
}

func delivery(acker amqp.Acknowledger, retryHops int) amqp.Delivery {
	d := amqp.Delivery{
		Acknowledger:  acker,
		Body:          []byte(`{"hello":"world"}`),
		RoutingKey:    "notification.event",
		ContentType:   "application/json",
		CorrelationId: "corr-1",
		MessageId:     "m-1",
	}
	if retryHops > 0 {
		d.Headers = amqp.Table{
			"x-death": []any{
				amqp.Table{"count": int64(retryHops), "queue": "notifications.retry.q"},
			},
		}
	}
	return d
}

// ---- decision table ----

func TestHandleDelivery_Success_Acks(t *testing.T) {
	acker := &fakeAcker{}
	pub := &fakePublisher{}
	c := newTestConsumer(&fakeDispatcher{processed: true}, pub)

	c.handleDelivery(context.Background(), delivery(acker, 0))

	if acker.acks != 1 || acker.nacks != 0 {
		t.Fatalf("acks=%d nacks=%d", acker.acks, acker.nacks)
	}
	if len(pub.retryCalls) != 0 || len(pub.dlqCalls) != 0 {
		t.Fatal("no republish expected on success")
	}
}

func TestHandleDelivery_Duplicate_AcksWithoutPublish(t *testing.T) {
	acker := &fakeAcker{}
	pub := &fakePublisher{}
	c := newTestConsumer(&fakeDispatcher{processed: false}, pub)

	c.handleDelivery(context.Background(), delivery(acker, 0))

	if acker.acks != 1 {
		t.Fatalf("acks=%d", acker.acks)
	}
	if len(pub.retryCalls) != 0 || len(pub.dlqCalls) != 0 {
		t.Fatal("no republish expected for a duplicate")
	}
}

func TestHandleDelivery_Terminal_DeadLettersAndAcks(t *testing.T) {
	acker := &fakeAcker{}
	pub := &fakePublisher{}
	c := newTestConsumer(&fakeDispatcher{err: &permErr{msg: "bad schema"}}, pub)

	c.handleDelivery(context.Background(), delivery(acker, 0))

	if len(pub.dlqCalls) != 1 {
		t.Fatalf("dlq publishes = %d", len(pub.dlqCalls))
	}
	if pub.dlqCalls[0].reason != "schema_validation" {
		t.Fatalf("reason = %q", pub.dlqCalls[0].reason)
	}
	if len(pub.retryCalls) != 0 {
		t.Fatal("terminal failures never touch the retry exchange")
	}
	if acker.acks != 1 {
		t.Fatalf("acks=%d", acker.acks)
	}
}

func TestHandleDelivery_Transient_BelowLimit_Retries(t *testing.T) {
	for _, hops := range []int{0, 1, 2} {
		acker := &fakeAcker{}
		pub := &fakePublisher{}
		c := newTestConsumer(&fakeDispatcher{err: &tempErr{msg: "smtp down"}}, pub)

		c.handleDelivery(context.Background(), delivery(acker, hops))

		if len(pub.retryCalls) != 1 {
			t.Fatalf("hops=%d: retry publishes = %d", hops, len(pub.retryCalls))
		}
		if len(pub.dlqCalls) != 0 {
			t.Fatalf("hops=%d: unexpected dlq publish", hops)
		}
		if acker.acks != 1 {
			t.Fatalf("hops=%d: acks=%d", hops, acker.acks)
		}
	}
}

func TestHandleDelivery_Transient_ZeroMaxRetries_DeadLettersImmediately(t *testing.T) {
	acker := &fakeAcker{}
	pub := &fakePublisher{}
	c := newTestConsumer(&fakeDispatcher{err: &tempErr{msg: "smtp down"}}, pub)
	c.cfg.MaxRetries = 0

	c.handleDelivery(context.Background(), delivery(acker, 0))

	if len(pub.retryCalls) != 0 {
		t.Fatal("no retry expected with a zero retry budget")
	}
	if len(pub.dlqCalls) != 1 || pub.dlqCalls[0].reason != "max_retries_exceeded" {
		t.Fatalf("dlq calls = %+v", pub.dlqCalls)
	}
	if acker.acks != 1 {
		t.Fatalf("acks=%d", acker.acks)
	}
}

func TestHandleDelivery_Transient_AtLimit_DeadLetters(t *testing.T) {
	acker := &fakeAcker{}
	pub := &fakePublisher{}
	c := newTestConsumer(&fakeDispatcher{err: &tempErr{msg: "smtp down"}}, pub)

	c.handleDelivery(context.Background(), delivery(acker, 3))

	if len(pub.retryCalls) != 0 {
		t.Fatal("no retry expected at the limit")
	}
	if len(pub.dlqCalls) != 1 {
		t.Fatalf("dlq publishes = %d", len(pub.dlqCalls))
	}
	if pub.dlqCalls[0].reason != "max_retries_exceeded" {
		t.Fatalf("reason = %q", pub.dlqCalls[0].reason)
	}
	if acker.acks != 1 {
		t.Fatalf("acks=%d", acker.acks)
	}
}

func TestHandleDelivery_RetryPublishFails_LeavesUnacked(t *testing.T) {
	acker := &fakeAcker{}
	pub := &fakePublisher{retryErr: errors.New("no confirm")}
	c := newTestConsumer(&fakeDispatcher{err: &tempErr{msg: "smtp down"}}, pub)

	c.handleDelivery(context.Background(), delivery(acker, 0))

	if acker.acks != 0 {
		t.Fatal("must not ack when the republish failed")
	}
	if acker.nacks != 1 || !acker.lastNackRequeue {
		t.Fatalf("nacks=%d requeue=%v", acker.nacks, acker.lastNackRequeue)
	}
}

func TestHandleDelivery_DeadLetterPublishFails_LeavesUnacked(t *testing.T) {
	acker := &fakeAcker{}
	pub := &fakePublisher{dlqErr: errors.New("no confirm")}
	c := newTestConsumer(&fakeDispatcher{err: &permErr{msg: "bad schema"}}, pub)

	c.handleDelivery(context.Background(), delivery(acker, 0))

	if acker.acks != 0 {
		t.Fatal("must not ack when the republish failed")
	}
	if acker.nacks != 1 || !acker.lastNackRequeue {
		t.Fatalf("nacks=%d requeue=%v", acker.nacks, acker.lastNackRequeue)
	}
}

func TestHandleDelivery_UnexpectedError_LeavesUnacked(t *testing.T) {
	acker := &fakeAcker{}
	pub := &fakePublisher{}
	c := newTestConsumer(&fakeDispatcher{err: errors.New("panic-adjacent")}, pub)

	c.handleDelivery(context.Background(), delivery(acker, 0))

	if acker.acks != 0 {
		t.Fatal("must not ack an undecided delivery")
	}
	if acker.nacks != 1 || !acker.lastNackRequeue {
		t.Fatalf("nacks=%d requeue=%v", acker.nacks, acker.lastNackRequeue)
	}
	if len(pub.retryCalls)+len(pub.dlqCalls) != 0 {
		t.Fatal("no republish expected for unexpected errors")
	}
}

func TestHandleDelivery_SynthesisesCorrelationID(t *testing.T) {
	disp := &fakeDispatcher{processed: true}
	c := newTestConsumer(disp, &fakePublisher{})

	d := delivery(&fakeAcker{}, 0)
	d.CorrelationId = ""
	c.handleDelivery(context.Background(), d)

	if disp.lastCorrelationID == "" {
		t.Fatal("expected a synthesised correlation id")
	}
}

func TestHandleDelivery_PreservesInboundCorrelationID(t *testing.T) {
	disp := &fakeDispatcher{processed: true}
	c := newTestConsumer(disp, &fakePublisher{})

	c.handleDelivery(context.Background(), delivery(&fakeAcker{}, 0))

	if disp.lastCorrelationID != "corr-1" {
		t.Fatalf("correlation id = %q", disp.lastCorrelationID)
	}
}

// ---- retry count derivation ----

func TestRetryCount(t *testing.T) {
	cases := []struct {
		name    string
		headers amqp.Table
		want    int64
	}{
		{name: "nil headers", headers: nil, want: 0},
		{name: "no x-death", headers: amqp.Table{}, want: 0},
		{name: "empty x-death", headers: amqp.Table{"x-death": []any{}}, want: 0},
		{
			name:    "first entry count int64",
			headers: amqp.Table{"x-death": []any{amqp.Table{"count": int64(2)}}},
			want:    2,
		},
		{
			name:    "first entry count int32",
			headers: amqp.Table{"x-death": []any{amqp.Table{"count": int32(1)}}},
			want:    1,
		},
		{
			name: "only the first entry is read",
			headers: amqp.Table{"x-death": []any{
				amqp.Table{"count": int64(3)},
				amqp.Table{"count": int64(9)},
			}},
			want: 3,
		},
		{
			name:    "malformed entry",
			headers: amqp.Table{"x-death": []any{"garbage"}},
			want:    0,
		},
		{
			name:    "malformed count",
			headers: amqp.Table{"x-death": []any{amqp.Table{"count": "2"}}},
			want:    0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := retryCount(tc.headers); got != tc.want {
				t.Fatalf("retryCount = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestTerminalReason_Fallback(t *testing.T) {
	if got := terminalReason(&permErr{msg: "x"}); got != "schema_validation" {
		t.Fatalf("reason = %q", got)
	}
	if got := terminalReason(errors.New("x")); got != "non_retriable" {
		t.Fatalf("reason = %q", got)
	}
}

func TestIsPreconditionFailed(t *testing.T) {
	if !isPreconditionFailed(errors.New("Exception (406) Reason: \"PRECONDITION_FAILED - inequivalent arg 'x-message-ttl'\"")) {
		t.Fatal("expected precondition match")
	}
	if isPreconditionFailed(errors.New("connection refused")) {
		t.Fatal("unexpected match")
	}
	if isPreconditionFailed(nil) {
		t.Fatal("nil is not a precondition failure")
	}
}
