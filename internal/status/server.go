// Package status serves the operational HTTP surface.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"validator-watch/internal/solana"
	"validator-watch/internal/timerqueue"
)

// TimerSource exposes the deferred check queue.
type TimerSource interface {
	Counts() map[solana.Network]int
	Entries() []timerqueue.Entry
}

// HealthFunc reports whether the service can do its work.
type HealthFunc func(ctx context.Context) error

type timersResponse struct {
	Counts  map[solana.Network]int `json:"counts"`
	Total   int                    `json:"total"`
	Pending []timerqueue.Entry     `json:"pending"`
}

// NewRouter wires the routes.
func NewRouter(timers TimerSource, gatherer prometheus.Gatherer, health HealthFunc) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if health != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/timers", func(w http.ResponseWriter, req *http.Request) {
			network := req.URL.Query().Get("network")
			if network != "" {
				if _, err := solana.ParseNetwork(network); err != nil {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
					return
				}
			}
			limit := 100
			if raw := req.URL.Query().Get("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 0 {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
					return
				}
				limit = n
			}

			resp := timersResponse{Counts: timers.Counts(), Pending: []timerqueue.Entry{}}
			for _, n := range resp.Counts {
				resp.Total += n
			}
			for _, e := range timers.Entries() {
				if len(resp.Pending) >= limit {
					break
				}
				if network != "" && string(e.Key.Network) != network {
					continue
				}
				resp.Pending = append(resp.Pending, e)
			}
			writeJSON(w, http.StatusOK, resp)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Server runs the router until its context ends.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// New builds a server listening on addr.
func New(addr string, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "status_server").Logger(),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("status server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
