package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errBoom = errors.New("boom")

// ---- fake renderer ----

type fakeRenderer struct {
	mu    sync.Mutex
	calls []string
	body  string
	err   error
}

func (r *fakeRenderer) Render(name string, data any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	if r.err != nil {
		return "", r.err
	}
	if r.body == "" {
		return "<html>rendered</html>", nil
	}
	return r.body, nil
}

// ---- fake gateway ----

type gatewaySend struct {
	to, subject, body, correlationID string
}

type fakeGateway struct {
	mu    sync.Mutex
	sends []gatewaySend
	err   error
}

func (g *fakeGateway) Send(ctx context.Context, to, subject, htmlBody, correlationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.sends = append(g.sends, gatewaySend{to: to, subject: subject, body: htmlBody, correlationID: correlationID})
	return nil
}

// ---- fake store ----

type fakeStore struct {
	mu sync.Mutex

	entries map[string]string
	ttls    map[string]time.Duration

	existsCalls int
	setCalls    int

	existsErr error
	setErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries: make(map[string]string),
		ttls:    make(map[string]time.Duration),
	}
}

func (s *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.existsCalls++
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.entries[key]
	return ok, nil
}

func (s *fakeStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++
	if s.setErr != nil {
		return s.setErr
	}
	s.entries[key] = value
	s.ttls[key] = ttl
	return nil
}

// ---- scripted error kinds ----

type permErr struct{ msg string }

func (e *permErr) Error() string   { return e.msg }
func (e *permErr) Permanent() bool { return true }
func (e *permErr) Kind() string    { return "template_render" }

type tempErr struct{ msg string }

func (e *tempErr) Error() string   { return e.msg }
func (e *tempErr) Temporary() bool { return true }
