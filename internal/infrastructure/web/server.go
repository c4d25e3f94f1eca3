package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server exposes the operational surface: a liveness endpoint and the
// Prometheus scrape endpoint. It carries no business logic.
type Server struct {
	addr string
	lg   zerolog.Logger
	srv  *http.Server
}

func NewServer(addr string, lg zerolog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		addr: addr,
		lg:   lg.With().Str("component", "web").Logger(),
	}

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()

	s.lg.Info().Str("addr", s.addr).Msg("web server listening")
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	s.lg.Info().Msg("web server shutting down")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "notification-service",
	})
}
