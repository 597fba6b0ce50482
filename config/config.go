// Package config loads and validates the relay configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker        BrokerConfig        `yaml:"broker"`
	Delivery      DeliveryConfig      `yaml:"delivery"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type BrokerConfig struct {
	Host       string    `yaml:"host"`
	Port       int       `yaml:"port"`
	ClientID   string    `yaml:"client_id"`
	KeepAlive  Duration  `yaml:"keep_alive"`
	CleanStart bool      `yaml:"clean_start"`
	Username   string    `yaml:"username"`
	Password   string    `yaml:"password"`
	TLS        TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DeliveryConfig struct {
	BackoffBase    Duration `yaml:"backoff_base"`
	BackoffCap     Duration `yaml:"backoff_cap"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
	TickInterval   Duration `yaml:"tick_interval"`
}

type StorageConfig struct {
	Path            string   `yaml:"path"`
	Capacity        ByteSize `yaml:"capacity"`
	QuotaThreshold  float64  `yaml:"quota_threshold"`
	QuotaHysteresis float64  `yaml:"quota_hysteresis"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration applied before the YAML file is
// layered on top. The client ID gets a fresh random suffix per process.
func DefaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Port:       8883,
			ClientID:   "relay-" + uuid.NewString()[:8],
			KeepAlive:  Duration(60 * time.Second),
			CleanStart: true,
			TLS:        TLSConfig{Enabled: true},
		},
		Delivery: DeliveryConfig{
			BackoffBase:    Duration(500 * time.Millisecond),
			BackoffCap:     Duration(30 * time.Second),
			AttemptTimeout: Duration(10 * time.Second),
			TickInterval:   Duration(250 * time.Millisecond),
		},
		Storage: StorageConfig{
			Path:            "/var/lib/telemetry-relay/deadletter.db",
			Capacity:        ByteSize(16 * 1024 * 1024),
			QuotaThreshold:  0.8,
			QuotaHysteresis: 0.05,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Listen:  ":9090",
				Path:    "/metrics",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
	}
}

// Load reads path, layers it over the defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return fmt.Errorf("broker.host is required")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port must be in 1..65535, got %d", c.Broker.Port)
	}
	if c.Broker.ClientID == "" {
		return fmt.Errorf("broker.client_id is required")
	}

	if c.Delivery.BackoffBase <= 0 {
		return fmt.Errorf("delivery.backoff_base must be > 0")
	}
	if c.Delivery.BackoffCap < c.Delivery.BackoffBase {
		return fmt.Errorf("delivery.backoff_cap must be >= backoff_base")
	}
	if c.Delivery.AttemptTimeout <= 0 {
		return fmt.Errorf("delivery.attempt_timeout must be > 0")
	}
	if c.Delivery.TickInterval <= 0 {
		return fmt.Errorf("delivery.tick_interval must be > 0")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.Capacity <= 0 {
		return fmt.Errorf("storage.capacity must be > 0")
	}
	if c.Storage.QuotaThreshold <= 0 || c.Storage.QuotaThreshold > 1 {
		return fmt.Errorf("storage.quota_threshold must be in (0, 1], got %v", c.Storage.QuotaThreshold)
	}
	if c.Storage.QuotaHysteresis < 0 || c.Storage.QuotaHysteresis >= c.Storage.QuotaThreshold {
		return fmt.Errorf("storage.quota_hysteresis must be in [0, quota_threshold)")
	}

	return nil
}

// BrokerAddr returns the host:port dial target.
func (c *Config) BrokerAddr() string {
	return fmt.Sprintf("%s:%d", c.Broker.Host, c.Broker.Port)
}

// Duration wraps time.Duration for YAML unmarshaling of strings like
// "500ms", "1m".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize wraps uint64 for YAML unmarshaling of strings like "16MB".
type ByteSize uint64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		var n uint64
		if err2 := value.Decode(&n); err2 != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	parsed, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

func (b ByteSize) MarshalYAML() (interface{}, error) {
	return uint64(b), nil
}

func parseByteSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	var multiplier uint64 = 1
	numStr := s
	switch {
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "B"):
		numStr = strings.TrimSuffix(s, "B")
	}

	n, err := strconv.ParseUint(strings.TrimSpace(numStr), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return n * multiplier, nil
}
