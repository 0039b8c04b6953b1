// Package server exposes the datasets over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"cryptomovers/internal/app"
	"cryptomovers/internal/freshness"
	"cryptomovers/internal/models"
	"cryptomovers/internal/upstream"
)

const noCache = "no-store, no-cache, must-revalidate, proxy-revalidate"

type Server struct {
	app    *app.App
	router *httprouter.Router
}

func New(a *app.App) *Server {
	s := &Server{app: a, router: httprouter.New()}
	s.router.GET("/api/stats", s.handleStats)
	s.router.GET("/api/dex-stats", s.handleDexStats)
	s.router.GET("/healthz", s.handleHealth)
	s.router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	s.router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		log.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("handler panicked")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statsBody struct {
	Timestamp        int64         `json:"timestamp"`
	Network          string        `json:"network,omitempty"`
	IsPartial        bool          `json:"isPartial"`
	LastUpdateFailed bool          `json:"lastUpdateFailed"`
	Gainers          []models.Item `json:"gainers"`
	Losers           []models.Item `json:"losers"`
}

// handleStats serves CEX movers, or the pools dataset when ?network= is given.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	network := r.URL.Query().Get("network")
	if network == "" {
		s.serve(w, r, s.app.Market(), "")
		return
	}
	engine, err := s.app.Pools(network)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.serve(w, r, engine, network)
}

func (s *Server) handleDexStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	network := r.URL.Query().Get("network")
	if network == "" {
		network = app.AllNetworks
	}
	view, err := s.app.Pairs(network)
	switch {
	case errors.Is(err, app.ErrPairsDisabled):
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.serve(w, r, view, network)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.app.Ping(r.Context()); err != nil {
		log.Warn().Err(err).Msg("health check failed")
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, ds app.Dataset, network string) {
	resp, err := ds.Serve(r.Context())
	if err != nil {
		status := statusFor(err)
		log.Error().Err(err).Str("dataset", ds.Dataset()).Int("status", status).Msg("request failed")
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("X-Source", resp.Source)
	entry := resp.Entry
	writeJSON(w, http.StatusOK, statsBody{
		Timestamp:        entry.Timestamp.UnixMilli(),
		Network:          network,
		IsPartial:        entry.IsPartial,
		LastUpdateFailed: entry.LastUpdateFailed,
		Gainers:          nonNil(entry.Payload.Gainers),
		Losers:           nonNil(entry.Payload.Losers),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, freshness.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, upstream.ErrFatal), errors.Is(err, upstream.ErrRateLimited):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func nonNil(items []models.Item) []models.Item {
	if items == nil {
		return []models.Item{}
	}
	return items
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": true, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("encoding response")
		status = http.StatusInternalServerError
		body = []byte(`{"error":true,"message":"response could not be encoded"}`)
		w.Header().Del("X-Source")
	}
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Cache-Control", noCache)
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		log.Warn().Err(err).Msg("writing response")
	}
}
