package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/global-data-controller/rankplace/internal/config"
	"github.com/global-data-controller/rankplace/internal/logging"
	"github.com/global-data-controller/rankplace/internal/telemetry"
)

// Bootstrap wires the ambient components every command needs: configuration,
// logging and telemetry
type Bootstrap struct {
	Config    *config.Config
	Logger    logging.Logger
	Telemetry *telemetry.Telemetry
}

// New creates a new bootstrap instance
func New() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration and sets up logging and telemetry
func (b *Bootstrap) Initialize(ctx context.Context, configFile string) error {
	return b.InitializeWithFlags(ctx, configFile, nil)
}

// InitializeWithFlags is Initialize with command-line overrides
func (b *Bootstrap) InitializeWithFlags(ctx context.Context, configFile string, flags *pflag.FlagSet) error {
	cfg, err := config.LoadWithFlags(configFile, flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	b.Config = cfg

	logger, err := b.initLogging(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	b.Logger = logger

	logger.Debug(ctx, "Configuration loaded",
		zap.String("config_file", configFile),
		zap.String("input_dir", cfg.Input.Dir),
		zap.String("log_level", cfg.Logging.Level))

	tel, err := b.initTelemetry(cfg.Telemetry)
	if err != nil {
		logger.Error(ctx, "Failed to initialize telemetry", zap.Error(err))
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	b.Telemetry = tel

	if cfg.Telemetry.Enabled {
		logger.Debug(ctx, "Telemetry initialized",
			zap.String("service_name", cfg.Telemetry.ServiceName),
			zap.Int("prometheus_port", cfg.Telemetry.PrometheusPort),
			zap.Float64("sample_rate", cfg.Telemetry.SampleRate))
	}

	return nil
}

// Start starts the telemetry exporters
func (b *Bootstrap) Start(ctx context.Context) error {
	if b.Logger == nil {
		return fmt.Errorf("bootstrap not initialized")
	}

	if b.Telemetry != nil {
		if err := b.Telemetry.Start(ctx); err != nil {
			b.Logger.Error(ctx, "Failed to start telemetry", zap.Error(err))
			return fmt.Errorf("failed to start telemetry: %w", err)
		}
	}
	return nil
}

// Stop flushes telemetry and the logger
func (b *Bootstrap) Stop(ctx context.Context) error {
	if b.Logger == nil {
		return nil
	}

	if b.Telemetry != nil {
		if err := b.Telemetry.Stop(ctx); err != nil {
			b.Logger.Error(ctx, "Failed to stop telemetry", zap.Error(err))
			return fmt.Errorf("failed to stop telemetry: %w", err)
		}
	}

	// stdout/stderr syncs fail on some platforms; nothing to recover
	if err := b.Logger.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
	}
	return nil
}

func (b *Bootstrap) initLogging(cfg config.LoggingConfig) (logging.Logger, error) {
	logger, err := logging.NewLogger(logging.LoggingConfig{
		Level:      cfg.Level,
		Format:     cfg.Format,
		OutputPath: cfg.OutputPath,
		ErrorPath:  cfg.ErrorPath,
	})
	if err != nil {
		return nil, err
	}
	logging.SetGlobalLogger(logger)
	return logger, nil
}

func (b *Bootstrap) initTelemetry(cfg config.TelemetryConfig) (*telemetry.Telemetry, error) {
	tel, err := telemetry.NewTelemetry(telemetry.TelemetryConfig{
		Enabled:        cfg.Enabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		PrometheusPort: cfg.PrometheusPort,
		JaegerEndpoint: cfg.JaegerEndpoint,
		SampleRate:     cfg.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	telemetry.SetGlobalTelemetry(tel)
	return tel, nil
}

// GetConfig returns the loaded configuration
func (b *Bootstrap) GetConfig() *config.Config {
	return b.Config
}

// GetLogger returns the initialized logger
func (b *Bootstrap) GetLogger() logging.Logger {
	return b.Logger
}

// GetTelemetry returns the initialized telemetry
func (b *Bootstrap) GetTelemetry() *telemetry.Telemetry {
	return b.Telemetry
}
