// Package server exposes the live feed, metrics, health and on-demand
// history queries over HTTP, plus a gRPC health service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ppiankov/toolwatch/internal/delivery"
	"github.com/ppiankov/toolwatch/internal/fanout"
	"github.com/ppiankov/toolwatch/internal/model"
)

const healthInterval = 5 * time.Second

// DeliveryService is the part of the delivery buffer the server reports on.
type DeliveryService interface {
	Stats() delivery.Stats
	Healthy() bool
}

// HistoryFunc runs sequence detection over the raw logs with the given window.
type HistoryFunc func(ctx context.Context, window time.Duration) ([]model.Sequence, error)

// Config holds listener addresses. An empty address disables that listener.
type Config struct {
	Addr     string
	GRPCAddr string
}

// Server serves the HTTP and gRPC surfaces.
type Server struct {
	cfg      Config
	hub      *fanout.Hub
	delivery DeliveryService
	history  HistoryFunc
	logger   *zap.Logger

	health     *health.Server
	grpcServer *grpc.Server
}

// New creates a server. hub, delivery and history may be nil; the matching
// endpoints then report the feature as unavailable.
func New(cfg Config, hub *fanout.Hub, ds DeliveryService, history HistoryFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:        cfg,
		hub:        hub,
		delivery:   ds,
		history:    history,
		logger:     logger,
		health:     health.NewServer(),
		grpcServer: grpc.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.refreshHealth()
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/sequences", s.handleSequences).Methods(http.MethodGet)
	if s.hub != nil {
		r.Handle("/ws", fanout.ServeWS(s.hub, fanout.DefaultBuffer, s.logger))
	}
	return otelhttp.NewHandler(r, "toolwatch.http")
}

// Run serves until ctx is cancelled, then shuts both listeners down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	var httpServer *http.Server
	if s.cfg.Addr != "" {
		lis, err := net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
		}
		httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
		s.logger.Info("http listening", zap.String("addr", lis.Addr().String()))
		go func() {
			if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	if s.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			if httpServer != nil {
				_ = httpServer.Close()
			}
			return fmt.Errorf("listen on %s: %w", s.cfg.GRPCAddr, err)
		}
		s.logger.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
		go func() {
			if err := s.grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-errCh:
			runErr = err
			break loop
		case <-ticker.C:
			s.refreshHealth()
		}
	}

	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	return runErr
}

// ServeGRPC serves the health service on lis. For testing.
func (s *Server) ServeGRPC(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop stops the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// refreshHealth reports NOT_SERVING while the latest delivery attempt has
// failed.
func (s *Server) refreshHealth() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.delivery != nil && !s.delivery.Healthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus("toolwatch.delivery", status)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.delivery != nil && !s.delivery.Healthy() {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"delivery": nil, "subscribers": 0}
	if s.delivery != nil {
		body["delivery"] = s.delivery.Stats()
	}
	if s.hub != nil {
		body["subscribers"] = s.hub.Len()
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleSequences(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusServiceUnavailable, "history queries are not configured")
		return
	}
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid window %q", raw))
			return
		}
		window = d
	}

	seqs, err := s.history(r.Context(), window)
	if err != nil {
		s.logger.Warn("history query failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if seqs == nil {
		seqs = []model.Sequence{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"count": len(seqs), "sequences": seqs})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
