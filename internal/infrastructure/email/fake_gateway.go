package email

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// FakeGateway logs instead of sending. It records every call so tests and
// local runs can observe what would have gone out.
type FakeGateway struct {
	lg zerolog.Logger

	mu   sync.Mutex
	sent []FakeSend
	fail error
}

type FakeSend struct {
	To            string
	Subject       string
	HTMLBody      string
	CorrelationID string
}

func NewFakeGateway(lg zerolog.Logger) *FakeGateway {
	return &FakeGateway{lg: lg.With().Str("component", "fake_gateway").Logger()}
}

func (g *FakeGateway) Send(ctx context.Context, to, subject, htmlBody, correlationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.fail != nil {
		return g.fail
	}

	g.sent = append(g.sent, FakeSend{To: to, Subject: subject, HTMLBody: htmlBody, CorrelationID: correlationID})
	g.lg.Info().
		Str("to", to).
		Str("subject", subject).
		Str("correlation_id", correlationID).
		Int("body_bytes", len(htmlBody)).
		Msg("fake email send")
	return nil
}

// Sent returns a copy of the recorded sends.
func (g *FakeGateway) Sent() []FakeSend {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]FakeSend, len(g.sent))
	copy(out, g.sent)
	return out
}

// Fail makes every subsequent Send return err.
func (g *FakeGateway) Fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = err
}
