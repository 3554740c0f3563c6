package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// CacheType selects where stream cursors are persisted
type CacheType string

const (
	CacheNone   CacheType = "none"   // Cursors live in memory only
	CacheRedis  CacheType = "redis"  // Dedicated Redis server
	CachePebble CacheType = "pebble" // Local Pebble store under data_dir
)

// FeedConfiguration controls listener behavior
type FeedConfiguration struct {
	StreamBlockMS      int `toml:"stream_block_ms"`      // XREAD BLOCK duration, 0 blocks forever
	SubscribeTimeoutMS int `toml:"subscribe_timeout_ms"` // Max wait for a subscribe confirmation
	ProbeTimeoutMS     int `toml:"probe_timeout_ms"`     // Liveness probe timeout during validation
}

// CacheConfiguration controls the stream cursor cache
type CacheConfiguration struct {
	Type      CacheType `toml:"type"`
	RedisURL  string    `toml:"redis_url"`
	KeyPrefix string    `toml:"key_prefix"`
}

// SinkConfiguration controls where fired trigger events are published
type SinkConfiguration struct {
	Type        string   `toml:"type"` // "kafka", "nats" or "mock"
	Brokers     []string `toml:"brokers"`
	NatsURL     string   `toml:"nats_url"`
	TopicPrefix string   `toml:"topic_prefix"`
	Format      string   `toml:"format"` // "json" or "msgpack"
	BatchSize   int      `toml:"batch_size"`
}

// AdminConfiguration controls the HTTP admin API
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // Empty disables authentication
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID string `toml:"instance_id"`
	DataDir    string `toml:"data_dir"`

	Feed       FeedConfiguration       `toml:"feed"`
	Cache      CacheConfiguration      `toml:"cache"`
	Sink       SinkConfiguration       `toml:"sink"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	InstanceIDFlag = flag.String("instance-id", "", "Instance ID (overrides config, empty=auto)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin API port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	DataDir: "./redisfeed-data",

	Feed: FeedConfiguration{
		StreamBlockMS:      5000,
		SubscribeTimeoutMS: 10000,
		ProbeTimeoutMS:     5000,
	},

	Cache: CacheConfiguration{
		Type:      CachePebble,
		KeyPrefix: "redisfeed:cursor:",
	},

	Sink: SinkConfiguration{
		Type:        "nats",
		NatsURL:     "nats://127.0.0.1:4222",
		TopicPrefix: "triggers",
		Format:      "json",
		BatchSize:   100,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        8090,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *InstanceIDFlag != "" {
		Config.InstanceID = *InstanceIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	if Config.InstanceID == "" {
		id, err := generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		Config.InstanceID = id
		log.Info().Str("instance_id", id).Msg("Auto-generated instance ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateInstanceID derives a stable id from the machine id
func generateInstanceID() (string, error) {
	id, err := machineid.ProtectedID("redisfeed")
	if err != nil {
		return "", err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return strconv.FormatUint(h.Sum64(), 16), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Feed.StreamBlockMS < 0 {
		return fmt.Errorf("feed stream block must be >= 0ms")
	}
	if Config.Feed.SubscribeTimeoutMS < 1 {
		return fmt.Errorf("feed subscribe timeout must be >= 1ms")
	}
	if Config.Feed.ProbeTimeoutMS < 1 {
		return fmt.Errorf("feed probe timeout must be >= 1ms")
	}

	switch Config.Cache.Type {
	case CacheNone, CachePebble:
	case CacheRedis:
		if Config.Cache.RedisURL == "" {
			return fmt.Errorf("cache type redis requires redis_url")
		}
	default:
		return fmt.Errorf("invalid cache type: %s", Config.Cache.Type)
	}

	switch Config.Sink.Type {
	case "kafka":
		if len(Config.Sink.Brokers) == 0 {
			return fmt.Errorf("kafka sink requires at least one broker")
		}
	case "nats":
		if Config.Sink.NatsURL == "" {
			return fmt.Errorf("nats sink requires nats_url")
		}
	case "mock":
	default:
		return fmt.Errorf("invalid sink type: %s", Config.Sink.Type)
	}

	if Config.Sink.Format != "json" && Config.Sink.Format != "msgpack" {
		return fmt.Errorf("invalid sink format: %s", Config.Sink.Format)
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}

// StreamBlock returns the configured XREAD BLOCK duration
func StreamBlock() time.Duration {
	return time.Duration(Config.Feed.StreamBlockMS) * time.Millisecond
}

// SubscribeTimeout returns the configured subscribe confirmation timeout
func SubscribeTimeout() time.Duration {
	return time.Duration(Config.Feed.SubscribeTimeoutMS) * time.Millisecond
}

// ProbeTimeout returns the configured liveness probe timeout
func ProbeTimeout() time.Duration {
	return time.Duration(Config.Feed.ProbeTimeoutMS) * time.Millisecond
}

// IsAdminAuthEnabled reports whether admin requests must carry the secret
func IsAdminAuthEnabled() bool {
	return Config.Admin.Secret != ""
}

// GetAdminSecret returns the pre-shared admin secret
func GetAdminSecret() string {
	return Config.Admin.Secret
}
