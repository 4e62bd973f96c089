// Package server hosts the report API over HTTP and the gRPC health service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/global-data-controller/rankplace/internal/api"
	"github.com/global-data-controller/rankplace/internal/config"
)

// Server represents the main application server
type Server struct {
	config   *config.Config
	logger   *zap.Logger
	services api.Services

	httpServer *http.Server
	grpcServer *api.GRPCServer
	httpAddr   net.Addr
	grpcAddr   net.Addr
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// New creates a new server instance
func New(cfg *config.Config, services api.Services, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if services == nil {
		return nil, errors.New("services are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config:   cfg,
		logger:   logger,
		services: services,
	}, nil
}

// Start starts the server
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting rankplace server",
		zap.String("version", s.config.Telemetry.ServiceVersion),
		zap.Int("http_port", s.config.Server.Port),
		zap.Int("grpc_port", s.config.Server.GRPCPort),
	)

	// Start HTTP server
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// Start gRPC server
	if err := s.startGRPCServer(ctx); err != nil {
		_ = s.httpServer.Close()
		return fmt.Errorf("failed to start gRPC server: %w", err)
	}

	s.logger.Info("Server started successfully",
		zap.String("http_addr", s.httpAddr.String()),
		zap.String("grpc_addr", s.grpcAddr.String()))
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping server...")

		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		// Stop HTTP server
		if s.httpServer != nil {
			if shutdownErr := s.httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
				s.logger.Error("Failed to shutdown HTTP server", zap.Error(shutdownErr))
				err = shutdownErr
			}
		}

		// Stop gRPC server
		if s.grpcServer != nil {
			_ = s.grpcServer.Stop(shutdownCtx)
		}

		// Wait for all goroutines to finish
		s.wg.Wait()

		s.logger.Info("Server stopped")
	})
	return err
}

// HTTPAddr returns the bound HTTP address once started
func (s *Server) HTTPAddr() net.Addr {
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC address once started
func (s *Server) GRPCAddr() net.Addr {
	return s.grpcAddr
}

// Handler builds the HTTP routes: health checks at the root and the API under
// /api/v1
func (s *Server) Handler() http.Handler {
	var limiter *api.RateLimiter
	if s.config.Server.RateLimit > 0 {
		limiter = api.NewRateLimiter(rate.Limit(s.config.Server.RateLimit), s.config.Server.RateBurst)
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.readinessHandler).Methods(http.MethodGet)

	handler := api.NewHandler(s.services, limiter, s.logger.Named("api"))
	handler.RegisterRoutes(router.PathPrefix("/api/v1").Subrouter())
	return router
}

// startHTTPServer starts the HTTP server
func (s *Server) startHTTPServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP port: %w", err)
	}
	s.httpAddr = lis.Addr()

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// startGRPCServer starts the gRPC health server
func (s *Server) startGRPCServer(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}
	s.grpcAddr = lis.Addr()

	s.grpcServer = api.NewGRPCServer(s.services, s.logger.Named("grpc"))
	return s.grpcServer.Serve(ctx, lis)
}

// healthHandler handles health check requests
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "healthy")
}

// readinessHandler reports ready when the solution store answers
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := s.services.ListRuns(ctx); err != nil {
		s.logger.Warn("Readiness check failed", zap.Error(err))
		writeStatus(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"service":   "rankplace",
		"timestamp": time.Now().UTC(),
	})
}
