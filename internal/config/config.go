package config

import (
	"errors"
	"time"

	pkgconfig "github.com/chandlergims/shillster/pkg/config"
	"github.com/chandlergims/shillster/pkg/pubsub"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Events     pubsub.Config
	Reconciler ReconcilerConfig
	Auth       AuthConfig
	Media      MediaConfig
	Discovery  DiscoveryConfig
	Log        LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	TimeZone        string `mapstructure:"timezone"`
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

// RedisConfig configures the follower-count cache. With Enabled false the
// service runs uncached.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	TTL          time.Duration `mapstructure:"ttl"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig configures the CDC consumer. Empty brokers disable it.
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	OffsetReset string `mapstructure:"offset_reset"`
}

type ReconcilerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	TopN     int           `mapstructure:"top_n"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type MediaConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type DiscoveryConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

var defaults = map[string]any{
	"server.host":                "0.0.0.0",
	"server.port":                8095,
	"database.driver":            "postgres",
	"database.host":              "localhost",
	"database.port":              5432,
	"database.user":              "postgres",
	"database.password":          "postgres",
	"database.dbname":            "postgres",
	"database.sslmode":           "disable",
	"database.timezone":          "UTC",
	"database.file_path":         "./data/shillster.db",
	"database.max_idle_conns":    10,
	"database.max_open_conns":    100,
	"database.conn_max_lifetime": 60,
	"database.log_level":         "warn",
	"redis.enabled":              true,
	"redis.address":              "localhost:6379",
	"redis.password":             "",
	"redis.db":                   0,
	"redis.ttl":                  "10m",
	"redis.dial_timeout":         "5s",
	"redis.read_timeout":         "3s",
	"redis.write_timeout":        "3s",
	"kafka.brokers":              "",
	"kafka.topic":                "dbserver1.public.follows",
	"kafka.group_id":             "shillster-social-graph",
	"kafka.offset_reset":         "latest",
	"events.driver":              "none",
	"events.redis.address":       "localhost:6379",
	"events.kafka.brokers":       "localhost:9092",
	"reconciler.interval":        "60s",
	"reconciler.top_n":           100,
	"auth.jwt_secret":            "",
	"auth.issuer":                "",
	"media.base_url":             "",
	"discovery.default_limit":    20,
	"discovery.max_limit":        100,
	"log.level":                  "info",
	"log.pretty":                 false,
}

var envBindings = map[string]string{
	"server.port":                "PORT",
	"database.driver":            "DB_DRIVER",
	"database.host":              "DB_HOST",
	"database.port":              "DB_PORT",
	"database.user":              "DB_USER",
	"database.password":          "DB_PASSWORD",
	"database.dbname":            "DB_NAME",
	"database.sslmode":           "DB_SSLMODE",
	"database.file_path":         "DB_FILE_PATH",
	"database.max_idle_conns":    "DB_MAX_IDLE_CONNS",
	"database.max_open_conns":    "DB_MAX_OPEN_CONNS",
	"database.conn_max_lifetime": "DB_CONN_MAX_LIFETIME",
	"redis.enabled":              "REDIS_ENABLED",
	"redis.address":              "REDIS_ADDRESS",
	"redis.password":             "REDIS_PASSWORD",
	"redis.db":                   "REDIS_DB",
	"redis.ttl":                  "REDIS_TTL",
	"kafka.brokers":              "KAFKA_BROKERS",
	"kafka.topic":                "KAFKA_TOPIC",
	"kafka.group_id":             "KAFKA_GROUP_ID",
	"kafka.offset_reset":         "KAFKA_OFFSET_RESET",
	"events.driver":              "EVENTS_DRIVER",
	"events.redis.address":       "EVENTS_REDIS_ADDRESS",
	"events.kafka.brokers":       "EVENTS_KAFKA_BROKERS",
	"reconciler.interval":        "RECONCILER_INTERVAL",
	"reconciler.top_n":           "RECONCILER_TOP_N",
	"auth.jwt_secret":            "JWT_SECRET",
	"auth.issuer":                "JWT_ISSUER",
	"media.base_url":             "MEDIA_BASE_URL",
	"log.level":                  "LOG_LEVEL",
}

// Load reads ./config/config.yaml if present, then applies env overrides.
func Load() (*Config, error) {
	return LoadFrom("./config")
}

// LoadFrom is Load with an explicit config directory.
func LoadFrom(path string) (*Config, error) {
	v, err := pkgconfig.Load(path, "config")
	if err != nil {
		return nil, err
	}

	pkgconfig.SetDefaults(v, defaults)
	if err := pkgconfig.BindEnvs(v, envBindings); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (JWT_SECRET) is required")
	}
	if c.Discovery.MaxLimit < c.Discovery.DefaultLimit {
		return errors.New("discovery.max_limit must not be below discovery.default_limit")
	}
	return nil
}
