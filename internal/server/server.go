// Package server exposes training and prediction over HTTP and streams
// training progress over a websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/FlavioCFOliveira/FailSight/internal/config"
	"github.com/FlavioCFOliveira/FailSight/internal/predict"
	"github.com/FlavioCFOliveira/FailSight/internal/store"
	"github.com/FlavioCFOliveira/FailSight/internal/train"
)

// Service is what the handlers drive.
type Service interface {
	Train(ctx context.Context) (*train.Run, error)
	Cancel() bool
	Status() train.Snapshot
	Predict(ctx context.Context, features []float64) (predict.Result, error)
	Runs(ctx context.Context, limit int) ([]store.RunRecord, error)
}

// Server is the HTTP front end.
type Server struct {
	server *http.Server
	svc    Service
	hub    *Hub
	log    *zap.Logger

	// runCtx bounds training runs; it outlives every request.
	runCtx context.Context
}

// New builds a server. Training runs started through it are cancelled when
// ctx is done. hub may be nil, in which case /api/ws is not served.
func New(ctx context.Context, cfg config.HTTPConfig, svc Service, hub *Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{svc: svc, hub: hub, log: log, runCtx: ctx}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/train", s.handleTrain)
	mux.HandleFunc("POST /api/train/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/train/status", s.handleStatus)
	mux.HandleFunc("POST /api/predict", s.handlePredict)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if hub != nil {
		mux.Handle("GET /api/ws", hub)
	}

	chain := Chain(
		Recovery(log),
		AccessLog(log),
		CORS(cfg.AllowedOrigins),
	)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      chain(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s
}

// Handler returns the routed handler with middlewares applied.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("http server shutting down")
	return s.server.Shutdown(ctx)
}
