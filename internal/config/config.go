// Package config loads the sparkcloud binary configuration from a YAML file
// and SPARKCLOUD_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/sparkcloud"
	"github.com/xraph/sparkcloud/event/redisbus"
	"github.com/xraph/sparkcloud/firmware"
)

// PathEnv names the variable holding the config file path.
const PathEnv = "SPARKCLOUD_CONFIG"

// Drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverFile   = "file"
	DriverS3     = "s3"
)

// Config is the binary configuration.
type Config struct {
	LogLevel string            `yaml:"log_level"`
	HTTP     HTTPConfig        `yaml:"http"`
	Store    StoreConfig       `yaml:"store"`
	Bus      BusConfig         `yaml:"bus"`
	Redis    RedisConfig       `yaml:"redis"`
	Firmware FirmwareConfig    `yaml:"firmware"`
	Webhooks WebhookConfig     `yaml:"webhooks"`
	Tokens   map[string]string `yaml:"tokens"` // access token -> user ID
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// BusConfig selects the event bus.
type BusConfig struct {
	Driver  string `yaml:"driver"`
	Channel string `yaml:"channel"`
}

// RedisConfig is shared by the Redis store and bus.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// FirmwareConfig selects where known app images live.
type FirmwareConfig struct {
	Driver string            `yaml:"driver"`
	Dir    string            `yaml:"dir"`
	S3     firmware.S3Config `yaml:"s3"`
}

// WebhookConfig tunes the webhook engine.
type WebhookConfig struct {
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	MaxResponseBody      int64         `yaml:"max_response_body"`
	ChunkSize            int           `yaml:"chunk_size"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
	ErrorCooldown        time.Duration `yaml:"error_cooldown"`
	RateLimit            float64       `yaml:"rate_limit"`
	RateBurst            int           `yaml:"rate_burst"`
	MaxPerUser           int           `yaml:"max_per_user"`
	MaxPerDevice         int           `yaml:"max_per_device"`
	SigningSecret        string        `yaml:"signing_secret"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	srv := sparkcloud.DefaultConfig()
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: srv.ShutdownTimeout,
		},
		Store:    StoreConfig{Driver: DriverMemory},
		Bus:      BusConfig{Driver: DriverMemory, Channel: redisbus.DefaultChannel},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Firmware: FirmwareConfig{Driver: DriverFile, Dir: "firmware"},
		Webhooks: WebhookConfig{
			RequestTimeout:       srv.RequestTimeout,
			MaxResponseBody:      srv.MaxResponseBody,
			ChunkSize:            srv.ChunkSize,
			MaxConsecutiveErrors: srv.MaxConsecutiveErrors,
			ErrorCooldown:        srv.ErrorCooldown,
			RateLimit:            srv.RateLimit,
			RateBurst:            srv.RateBurst,
			MaxPerUser:           srv.MaxWebhooksPerUser,
			MaxPerDevice:         srv.MaxWebhooksPerDevice,
		},
		Tokens: map[string]string{},
	}
}

// Load reads the file named by SPARKCLOUD_CONFIG, if any, then applies the
// environment overrides.
func Load() (*Config, error) {
	return LoadWith(os.Getenv(PathEnv), os.Getenv)
}

// LoadWith reads path (may be empty) and applies overrides from getenv.
func LoadWith(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv("SPARKCLOUD_" + key); v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.LogLevel)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("STORE", &c.Store.Driver)
	str("BUS", &c.Bus.Driver)
	str("BUS_CHANNEL", &c.Bus.Channel)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("FIRMWARE", &c.Firmware.Driver)
	str("FIRMWARE_DIR", &c.Firmware.Dir)
	str("S3_BUCKET", &c.Firmware.S3.Bucket)
	str("S3_PREFIX", &c.Firmware.S3.Prefix)
	str("S3_REGION", &c.Firmware.S3.Region)
	str("S3_ENDPOINT", &c.Firmware.S3.Endpoint)
	str("SIGNING_SECRET", &c.Webhooks.SigningSecret)

	if v := getenv("SPARKCLOUD_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: SPARKCLOUD_REDIS_DB: %w", err)
		}
		c.Redis.DB = db
	}
	if v := getenv("SPARKCLOUD_RATE_LIMIT"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: SPARKCLOUD_RATE_LIMIT: %w", err)
		}
		c.Webhooks.RateLimit = rate
	}
	if v := getenv("SPARKCLOUD_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: SPARKCLOUD_REQUEST_TIMEOUT: %w", err)
		}
		c.Webhooks.RequestTimeout = d
	}

	// SPARKCLOUD_TOKENS=token1:user1,token2:user2
	if v := getenv("SPARKCLOUD_TOKENS"); v != "" {
		if c.Tokens == nil {
			c.Tokens = map[string]string{}
		}
		for _, pair := range strings.Split(v, ",") {
			token, user, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if !ok || token == "" || user == "" {
				return fmt.Errorf("config: SPARKCLOUD_TOKENS: malformed entry %q", pair)
			}
			c.Tokens[token] = user
		}
	}
	return nil
}

// Validate reports every inconsistency in c.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("config: http.addr is required"))
	}
	if !oneOf(c.Store.Driver, DriverMemory, DriverRedis) {
		errs = append(errs, fmt.Errorf("config: unknown store driver %q", c.Store.Driver))
	}
	if !oneOf(c.Bus.Driver, DriverMemory, DriverRedis) {
		errs = append(errs, fmt.Errorf("config: unknown bus driver %q", c.Bus.Driver))
	}
	if (c.Store.Driver == DriverRedis || c.Bus.Driver == DriverRedis) && c.Redis.Addr == "" {
		errs = append(errs, errors.New("config: redis.addr is required for the redis driver"))
	}
	switch c.Firmware.Driver {
	case DriverFile:
		if c.Firmware.Dir == "" {
			errs = append(errs, errors.New("config: firmware.dir is required for the file driver"))
		}
	case DriverS3:
		if c.Firmware.S3.Bucket == "" {
			errs = append(errs, errors.New("config: firmware.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown firmware driver %q", c.Firmware.Driver))
	}
	if c.Webhooks.ChunkSize < 0 || c.Webhooks.MaxResponseBody < 0 || c.Webhooks.RateLimit < 0 {
		errs = append(errs, errors.New("config: webhook limits must not be negative"))
	}

	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return lvl, nil
}

// Server maps the webhook settings onto the library configuration.
func (c *Config) Server() sparkcloud.Config {
	cfg := sparkcloud.DefaultConfig()
	cfg.RequestTimeout = c.Webhooks.RequestTimeout
	cfg.MaxResponseBody = c.Webhooks.MaxResponseBody
	cfg.ChunkSize = c.Webhooks.ChunkSize
	cfg.MaxConsecutiveErrors = c.Webhooks.MaxConsecutiveErrors
	cfg.ErrorCooldown = c.Webhooks.ErrorCooldown
	cfg.RateLimit = c.Webhooks.RateLimit
	cfg.RateBurst = c.Webhooks.RateBurst
	cfg.MaxWebhooksPerUser = c.Webhooks.MaxPerUser
	cfg.MaxWebhooksPerDevice = c.Webhooks.MaxPerDevice
	cfg.SigningSecret = c.Webhooks.SigningSecret
	cfg.ShutdownTimeout = c.HTTP.ShutdownTimeout
	return cfg
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
