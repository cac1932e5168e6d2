package sparkcloud

import (
	"time"

	"github.com/xraph/sparkcloud/device"
	"github.com/xraph/sparkcloud/dispatch"
	"github.com/xraph/sparkcloud/webhook"
)

// Config holds the tunables of a Server.
type Config struct {
	// RequestTimeout bounds every outbound webhook call.
	RequestTimeout time.Duration

	// MaxResponseBody caps how much of a webhook response is read.
	MaxResponseBody int64

	// ChunkSize is the size of each republished response chunk.
	ChunkSize int

	// MaxConsecutiveErrors disables a webhook after this many failures in
	// a row. Zero disables the breaker.
	MaxConsecutiveErrors int

	// ErrorCooldown is how long a tripped webhook stays disabled.
	ErrorCooldown time.Duration

	// RateLimit is the per-webhook call rate in calls per second. Zero
	// disables throttling.
	RateLimit float64

	// RateBurst is the number of calls allowed above RateLimit at once.
	RateBurst int

	// SigningSecret enables HMAC signatures on outbound webhook calls.
	SigningSecret string

	// MaxWebhooksPerUser and MaxWebhooksPerDevice cap webhook creation.
	MaxWebhooksPerUser   int
	MaxWebhooksPerDevice int

	// DeviceWorkers bounds concurrent per-device work in list operations.
	DeviceWorkers int

	// ShutdownTimeout is the maximum time Stop waits for in-flight calls.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	d := dispatch.DefaultConfig()
	return Config{
		RequestTimeout:       d.RequestTimeout,
		MaxResponseBody:      d.MaxResponseBody,
		ChunkSize:            d.ChunkSize,
		MaxConsecutiveErrors: d.MaxConsecutiveErrors,
		ErrorCooldown:        d.ErrorCooldown,
		RateLimit:            d.RateLimit,
		RateBurst:            d.RateBurst,
		MaxWebhooksPerUser:   webhook.DefaultMaxPerUser,
		MaxWebhooksPerDevice: webhook.DefaultMaxPerDevice,
		DeviceWorkers:        device.DefaultMaxWorkers,
		ShutdownTimeout:      30 * time.Second,
	}
}

func (c Config) dispatchConfig() dispatch.Config {
	return dispatch.Config{
		RequestTimeout:       c.RequestTimeout,
		MaxResponseBody:      c.MaxResponseBody,
		ChunkSize:            c.ChunkSize,
		MaxConsecutiveErrors: c.MaxConsecutiveErrors,
		ErrorCooldown:        c.ErrorCooldown,
		RateLimit:            c.RateLimit,
		RateBurst:            c.RateBurst,
		SigningSecret:        c.SigningSecret,
	}
}

func (c Config) limits() webhook.Limits {
	return webhook.Limits{
		MaxPerUser:   c.MaxWebhooksPerUser,
		MaxPerDevice: c.MaxWebhooksPerDevice,
	}
}
