package eventbus

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/global-data-controller/rankplace/internal/config"
)

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL                  string        `json:"url" yaml:"url"`
	StreamName           string        `json:"stream_name" yaml:"stream_name"`
	StreamSubjects       []string      `json:"stream_subjects" yaml:"stream_subjects"`
	MaxAge               time.Duration `json:"max_age" yaml:"max_age"`
	MaxBytes             int64         `json:"max_bytes" yaml:"max_bytes"`
	MaxMsgs              int64         `json:"max_msgs" yaml:"max_msgs"`
	Replicas             int           `json:"replicas" yaml:"replicas"`
	ConnectTimeout       time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ReconnectWait        time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
}

// DefaultNATSConfig returns default NATS configuration
func DefaultNATSConfig() *NATSConfig {
	return &NATSConfig{
		URL:                  "nats://localhost:4222",
		StreamName:           "RANKPLACE_EVENTS",
		StreamSubjects:       []string{"rankplace.events.>"},
		MaxAge:               24 * time.Hour,
		MaxBytes:             1024 * 1024 * 1024, // 1GB
		MaxMsgs:              1000000,
		Replicas:             1,
		ConnectTimeout:       10 * time.Second,
		ReconnectWait:        2 * time.Second,
		MaxReconnectAttempts: 10,
	}
}

// NATSConfigFromConfig converts the eventbus section of the application config
func NATSConfigFromConfig(cfg config.EventBusConfig) *NATSConfig {
	return &NATSConfig{
		URL:                  cfg.URL,
		StreamName:           cfg.StreamName,
		StreamSubjects:       cfg.StreamSubjects,
		MaxAge:               cfg.MaxAge,
		MaxBytes:             cfg.MaxBytes,
		MaxMsgs:              cfg.MaxMsgs,
		Replicas:             cfg.Replicas,
		ConnectTimeout:       cfg.ConnectTimeout,
		ReconnectWait:        cfg.ReconnectWait,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}
}

// Validate validates the NATS configuration
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("NATS URL is required")
	}

	if c.StreamName == "" {
		return fmt.Errorf("NATS stream name is required")
	}

	if len(c.StreamSubjects) == 0 {
		return fmt.Errorf("NATS stream subjects are required")
	}

	if !strings.HasSuffix(c.StreamSubjects[0], ".>") {
		return fmt.Errorf("first NATS stream subject must end with \".>\", got %q", c.StreamSubjects[0])
	}

	if c.MaxAge <= 0 {
		return fmt.Errorf("NATS max age must be positive")
	}

	if c.MaxBytes <= 0 {
		return fmt.Errorf("NATS max bytes must be positive")
	}

	if c.MaxMsgs <= 0 {
		return fmt.Errorf("NATS max messages must be positive")
	}

	if c.Replicas < 1 {
		return fmt.Errorf("NATS replicas must be at least 1")
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}

	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}

	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 10
	}

	return nil
}

// SubjectPrefix is the first stream subject without its trailing wildcard;
// every event is published below it
func (c *NATSConfig) SubjectPrefix() string {
	if len(c.StreamSubjects) == 0 {
		return ""
	}
	return strings.TrimSuffix(c.StreamSubjects[0], ".>")
}

// NewEventBusFromConfig creates an event bus based on configuration
func NewEventBusFromConfig(cfg config.EventBusConfig, logger *zap.Logger) (EventBus, error) {
	natsConfig := NATSConfigFromConfig(cfg)
	if err := natsConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event bus configuration: %w", err)
	}
	return NewNATSEventBus(natsConfig, logger)
}
