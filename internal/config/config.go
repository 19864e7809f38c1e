package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when present in the working directory.
const DefaultPath = "config.yaml"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Storage  StorageConfig  `yaml:"storage"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	LogLevel string         `yaml:"log_level" env:"LOG_LEVEL"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"SUPPORT_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SUPPORT_SHUTDOWN_TIMEOUT"`
	// AdminName is the sender name on replies posted from the dashboard.
	AdminName string `yaml:"admin_name" env:"SUPPORT_ADMIN_NAME"`
}

type BackendConfig struct {
	Driver string `yaml:"driver" env:"SUPPORT_DB_DRIVER"`
	DSN    string `yaml:"dsn" env:"SUPPORT_DB_DSN"`
}

type StorageConfig struct {
	Dir            string `yaml:"dir" env:"SUPPORT_STORAGE_DIR"`
	PublicBaseURL  string `yaml:"public_base_url" env:"SUPPORT_PUBLIC_BASE_URL"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes" env:"SUPPORT_MAX_UPLOAD_BYTES"`
}

type RealtimeConfig struct {
	Mode   string `yaml:"mode" env:"SUPPORT_REALTIME_MODE"`
	Buffer int    `yaml:"buffer" env:"SUPPORT_REALTIME_BUFFER"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC"`
	// GroupPrefix names the consumer groups. Every process joins a group of
	// its own so that each one receives every event.
	GroupPrefix string `yaml:"group_prefix" env:"KAFKA_GROUP_PREFIX"`
}

// ConsumerGroup returns a group id unique to this call. Callers create one
// per feed consumer.
func (k KafkaConfig) ConsumerGroup() string {
	suffix := uuid.NewString()
	if k.GroupPrefix == "" {
		return suffix
	}
	return k.GroupPrefix + "-" + suffix
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	RealtimeLocal    = "local"
	RealtimeKafka    = "kafka"
	RealtimePostgres = "postgres"
)

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			AdminName:       "Support Team",
		},
		Backend: BackendConfig{
			Driver: DriverSQLite,
			DSN:    "support.db",
		},
		Storage: StorageConfig{
			Dir:            "uploads",
			PublicBaseURL:  "http://localhost:8080/files",
			MaxUploadBytes: 10 << 20,
		},
		Realtime: RealtimeConfig{
			Mode:   RealtimeLocal,
			Buffer: 64,
		},
		Kafka: KafkaConfig{
			Brokers:     []string{"localhost:9092"},
			Topic:       "support-messages",
			GroupPrefix: "support-desk",
		},
		LogLevel: "info",
	}
}

// Load starts from Default, applies DefaultPath if it exists, then the
// environment.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile is Load with an explicit YAML path. A missing file is not an
// error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown backend driver %q", c.Backend.Driver)
	}
	if strings.TrimSpace(c.Backend.DSN) == "" {
		return fmt.Errorf("backend dsn is required")
	}
	switch c.Realtime.Mode {
	case RealtimeLocal, RealtimeKafka:
	case RealtimePostgres:
		if c.Backend.Driver != DriverPostgres {
			return fmt.Errorf("realtime mode %q needs the postgres backend", c.Realtime.Mode)
		}
	default:
		return fmt.Errorf("unknown realtime mode %q", c.Realtime.Mode)
	}
	if c.Realtime.Mode == RealtimeKafka && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka realtime mode needs at least one broker")
	}
	if strings.TrimSpace(c.Storage.Dir) == "" {
		return fmt.Errorf("storage dir is required")
	}
	return nil
}

// Debug reports whether request-level logging is on.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}
