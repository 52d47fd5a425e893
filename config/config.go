package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mkulina/housing-pricing/models"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Estimator EstimatorConfig `mapstructure:"estimator"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	History   HistoryConfig   `mapstructure:"history"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	TrustedProxies string `mapstructure:"trusted_proxies"`
}

// Proxies splits the comma separated trusted proxy list. An empty list means
// the remote address is used as the client identity.
func (s ServerConfig) Proxies() []string {
	return splitList(s.TrustedProxies)
}

type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// RedisConfig is optional: an empty Host disables caching, pub/sub and the
// shared rate limiter.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Enabled() bool { return r.Host != "" }

func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

type CORSConfig struct {
	AllowedOrigins string `mapstructure:"allowed_origins"`
}

type EstimatorConfig struct {
	Mode           string `mapstructure:"mode"`
	Command        string `mapstructure:"command"`
	TimeoutMS      int    `mapstructure:"timeout_ms"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
	ModelPath      string `mapstructure:"model_path"`
}

func (e EstimatorConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMS) * time.Millisecond
}

// Argv splits Command into the program and its leading arguments.
func (e EstimatorConfig) Argv() []string {
	return strings.Fields(e.Command)
}

type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
}

type HistoryConfig struct {
	Limit           int `mapstructure:"limit"`
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

func (h HistoryConfig) CacheTTL() time.Duration {
	return time.Duration(h.CacheTTLSeconds) * time.Second
}

// MQTTConfig is optional: an empty URL disables broker events.
type MQTTConfig struct {
	URL   string `mapstructure:"url"`
	Topic string `mapstructure:"topic"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envBindings maps config keys to the environment variable names used by the
// deployment manifests.
var envBindings = map[string]string{
	"server.port":               "SERVER_PORT",
	"server.trusted_proxies":    "TRUSTED_PROXIES",
	"store.driver":              "STORE_DRIVER",
	"store.sqlite_path":         "SQLITE_PATH",
	"database.host":             "DB_HOST",
	"database.port":             "DB_PORT",
	"database.user":             "DB_USER",
	"database.password":         "DB_PASSWORD",
	"database.name":             "DB_NAME",
	"database.sslmode":          "DB_SSLMODE",
	"redis.host":                "REDIS_HOST",
	"redis.port":                "REDIS_PORT",
	"redis.password":            "REDIS_PASSWORD",
	"redis.db":                  "REDIS_DB",
	"cors.allowed_origins":      "CORS_ALLOWED_ORIGINS",
	"estimator.mode":            "ESTIMATOR_MODE",
	"estimator.command":         "ESTIMATOR_COMMAND",
	"estimator.timeout_ms":      "ESTIMATOR_TIMEOUT_MS",
	"estimator.max_concurrency": "ESTIMATOR_MAX_CONCURRENCY",
	"estimator.model_path":      "ESTIMATOR_MODEL_PATH",
	"rate_limit.per_minute":     "RATE_LIMIT_PER_MINUTE",
	"history.limit":             "HISTORY_LIMIT",
	"history.cache_ttl_seconds": "HISTORY_CACHE_TTL_SECONDS",
	"mqtt.url":                  "MQTT_URL",
	"mqtt.topic":                "MQTT_TOPIC",
	"log.level":                 "LOG_LEVEL",
	"log.format":                "LOG_FORMAT",
}

func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", env)
		}
	}

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.trusted_proxies", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "predictions.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "housing")
	v.SetDefault("database.password", "housing_dev_password")
	v.SetDefault("database.name", "housing")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("estimator.mode", "process")
	v.SetDefault("estimator.command", "estimator --model model.yaml")
	v.SetDefault("estimator.timeout_ms", 10000)
	v.SetDefault("estimator.max_concurrency", 8)
	v.SetDefault("estimator.model_path", "model.yaml")
	v.SetDefault("rate_limit.per_minute", 30)
	v.SetDefault("history.limit", 20)
	v.SetDefault("history.cache_ttl_seconds", 30)
	v.SetDefault("mqtt.url", "")
	v.SetDefault("mqtt.topic", "housing/predictions")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return eris.Errorf("config: invalid server port %d", c.Server.Port)
	}
	switch c.Store.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch c.Estimator.Mode {
	case "process":
		if len(c.Estimator.Argv()) == 0 {
			return eris.New("config: estimator command is empty")
		}
	case "inprocess":
		if c.Estimator.ModelPath == "" {
			return eris.New("config: estimator model path is empty")
		}
	default:
		return eris.Errorf("config: unknown estimator mode %q", c.Estimator.Mode)
	}
	if c.Estimator.TimeoutMS <= 0 {
		return eris.Errorf("config: estimator timeout must be positive, got %d", c.Estimator.TimeoutMS)
	}
	if c.Estimator.MaxConcurrency <= 0 {
		return eris.Errorf("config: estimator max concurrency must be positive, got %d", c.Estimator.MaxConcurrency)
	}
	if c.RateLimit.PerMinute <= 0 {
		return eris.Errorf("config: rate limit must be positive, got %d", c.RateLimit.PerMinute)
	}
	if c.History.Limit <= 0 || c.History.Limit > models.MaxHistoryLimit {
		return eris.Errorf("config: history limit must be between 1 and %d, got %d", models.MaxHistoryLimit, c.History.Limit)
	}
	return nil
}

// NewLogger builds the process logger. "console" selects the development
// encoder, anything else the JSON production encoder.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	return logger, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
