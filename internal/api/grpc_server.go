package api

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name of the report API
const ServiceName = "rankplace.ReportAPI"

// GRPCServer serves the standard gRPC health protocol for the report API.
// The reported status follows the backing store.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	services Services
	logger   *zap.Logger
}

// NewGRPCServer creates a new gRPC server instance
func NewGRPCServer(services Services, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := grpc.NewServer(
		grpc.UnaryInterceptor(loggingInterceptor(logger)),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	grpcServer := &GRPCServer{
		server:   server,
		health:   hs,
		services: services,
		logger:   logger,
	}
	grpcServer.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)

	return grpcServer
}

// Start starts the gRPC server on addr
func (s *GRPCServer) Start(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve checks the backend once and serves on lis in the background
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("Starting gRPC server", zap.String("addr", lis.Addr().String()))
	s.Refresh(ctx)

	go func() {
		if err := s.server.Serve(lis); err != nil {
			s.logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	return nil
}

// Refresh updates the health status from the backend
func (s *GRPCServer) Refresh(ctx context.Context) {
	if err := s.Health(ctx); err != nil {
		s.logger.Warn("Report API unhealthy", zap.Error(err))
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
}

// Health reports whether the backend can answer queries
func (s *GRPCServer) Health(ctx context.Context) error {
	if s.services == nil {
		return ErrNoTopology
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.services.ListRuns(ctx)
	return err
}

// Stop gracefully stops the gRPC server
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping gRPC server")
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}
	return nil
}

func (s *GRPCServer) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// loggingInterceptor provides request logging for gRPC
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		duration := time.Since(start)

		if err != nil {
			logger.Error("gRPC request failed",
				zap.String("method", info.FullMethod),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		} else {
			logger.Debug("gRPC request completed",
				zap.String("method", info.FullMethod),
				zap.Duration("duration", duration),
			)
		}

		return resp, err
	}
}
