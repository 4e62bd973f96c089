package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. RANKPLACE_SOLVER_WORKERS
const EnvPrefix = "RANKPLACE"

// Config holds the application configuration
type Config struct {
	Input     InputConfig     `mapstructure:"input"`
	Solver    SolverConfig    `mapstructure:"solver"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Report    ReportConfig    `mapstructure:"report"`
	EventBus  EventBusConfig  `mapstructure:"eventbus"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// InputConfig locates the five input tables
type InputConfig struct {
	Dir                string `mapstructure:"dir"`
	RegionCapacityFile string `mapstructure:"region_capacity_file"`
	RegionTierFile     string `mapstructure:"region_tier_file"`
	GroupDemandFile    string `mapstructure:"group_demand_file"`
	RegionLinkFile     string `mapstructure:"region_link_file"`
	GroupLinkFile      string `mapstructure:"group_link_file"`
	DefaultZone        string `mapstructure:"default_zone"`
}

// Path joins a table file name with the input directory
func (c InputConfig) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Dir, name)
}

// SolverConfig tunes ranking, path search and enumeration
type SolverConfig struct {
	Epsilon       float64       `mapstructure:"epsilon"`
	PJump         float64       `mapstructure:"p_jump"`
	PFollow       float64       `mapstructure:"p_follow"`
	MaxIterations int           `mapstructure:"max_iterations"`
	MaxPaths      int           `mapstructure:"max_paths"`
	MaxRounds     int           `mapstructure:"max_rounds"`
	TimeLimit     time.Duration `mapstructure:"time_limit"`
	Workers       int           `mapstructure:"workers"`
}

// PolicyConfig holds the optional Rego admission rule
type PolicyConfig struct {
	Path  string `mapstructure:"path"`
	Query string `mapstructure:"query"`
}

// ReportConfig holds report sink settings
type ReportConfig struct {
	SummaryPath string `mapstructure:"summary_path"`
}

// EventBusConfig holds NATS configuration
type EventBusConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	URL                  string        `mapstructure:"url"`
	StreamName           string        `mapstructure:"stream_name"`
	StreamSubjects       []string      `mapstructure:"stream_subjects"`
	MaxAge               time.Duration `mapstructure:"max_age"`
	MaxBytes             int64         `mapstructure:"max_bytes"`
	MaxMsgs              int64         `mapstructure:"max_msgs"`
	Replicas             int           `mapstructure:"replicas"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	ReconnectWait        time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	// Consumer is the durable consumer name serve ingests events under
	Consumer string `mapstructure:"consumer"`
}

// DatabaseConfig holds YDB configuration
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Table    string `mapstructure:"table"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	GRPCPort     int           `mapstructure:"grpc_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	PrometheusPort int     `mapstructure:"prometheus_port"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
	ErrorPath  string `mapstructure:"error_path"`
}

// Validate checks values that would make a run meaningless
func (c *Config) Validate() error {
	s := c.Solver
	if s.Epsilon <= 0 {
		return fmt.Errorf("solver.epsilon must be positive")
	}
	if s.PJump < 0 || s.PFollow < 0 {
		return fmt.Errorf("solver.p_jump and solver.p_follow must be non-negative")
	}
	if s.MaxIterations <= 0 {
		return fmt.Errorf("solver.max_iterations must be positive")
	}
	if s.MaxPaths <= 0 {
		return fmt.Errorf("solver.max_paths must be positive")
	}
	if s.MaxRounds < 0 {
		return fmt.Errorf("solver.max_rounds must not be negative")
	}
	if s.TimeLimit < 0 {
		return fmt.Errorf("solver.time_limit must not be negative")
	}
	if s.Workers < 1 {
		return fmt.Errorf("solver.workers must be at least 1")
	}
	if c.Input.DefaultZone == "" {
		return fmt.Errorf("input.default_zone is required")
	}
	if c.Database.Enabled && c.Database.Endpoint == "" {
		return fmt.Errorf("database.endpoint is required when the database is enabled")
	}
	if c.EventBus.Enabled && c.EventBus.URL == "" {
		return fmt.Errorf("eventbus.url is required when the event bus is enabled")
	}
	if c.EventBus.Enabled && c.EventBus.Consumer == "" {
		return fmt.Errorf("eventbus.consumer is required when the event bus is enabled")
	}
	return nil
}

// Load loads configuration from the default locations and environment
func Load() (*Config, error) {
	return LoadFromFile("")
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(configFile string) (*Config, error) {
	return LoadWithFlags(configFile, nil)
}

// LoadWithFlags loads configuration and lets set command-line flags
// override file and environment values. Flags are matched to keys by name,
// e.g. a flag named "solver.workers".
func LoadWithFlags(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/rankplace")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if bindErr != nil || !f.Changed {
				return
			}
			bindErr = v.BindPFlag(f.Name, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.dir", ".")
	v.SetDefault("input.region_capacity_file", "cloud_provider_data.csv")
	v.SetDefault("input.region_tier_file", "geo_place.csv")
	v.SetDefault("input.group_demand_file", "user_data.csv")
	v.SetDefault("input.region_link_file", "inter_region_data.csv")
	v.SetDefault("input.group_link_file", "inter_group_data.csv")
	v.SetDefault("input.default_zone", "default")

	v.SetDefault("solver.epsilon", 1e-4)
	v.SetDefault("solver.p_jump", 0.15)
	v.SetDefault("solver.p_follow", 0.85)
	v.SetDefault("solver.max_iterations", 10000)
	v.SetDefault("solver.max_paths", 10)
	v.SetDefault("solver.max_rounds", 0)
	v.SetDefault("solver.time_limit", "0s")
	v.SetDefault("solver.workers", 1)

	v.SetDefault("policy.path", "")
	v.SetDefault("policy.query", "data.rankplace.placement.allow")

	v.SetDefault("report.summary_path", "summary.csv")

	v.SetDefault("eventbus.enabled", false)
	v.SetDefault("eventbus.url", "nats://localhost:4222")
	v.SetDefault("eventbus.stream_name", "RANKPLACE_EVENTS")
	v.SetDefault("eventbus.stream_subjects", []string{"rankplace.events.>"})
	v.SetDefault("eventbus.max_age", "24h")
	v.SetDefault("eventbus.max_bytes", int64(1024*1024*1024))
	v.SetDefault("eventbus.max_msgs", int64(1000000))
	v.SetDefault("eventbus.replicas", 1)
	v.SetDefault("eventbus.connect_timeout", "10s")
	v.SetDefault("eventbus.reconnect_wait", "2s")
	v.SetDefault("eventbus.max_reconnect_attempts", 10)
	v.SetDefault("eventbus.consumer", "rankplace-api")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.endpoint", "grpc://localhost:2136/local")
	v.SetDefault("database.table", "placement_solutions")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.rate_burst", 100)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.prometheus_port", 9091)
	v.SetDefault("telemetry.jaeger_endpoint", "")
	v.SetDefault("telemetry.service_name", "rankplace")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.sample_rate", 1.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
	v.SetDefault("logging.error_path", "stderr")
}
