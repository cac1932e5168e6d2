package sparkcloud

import (
	"log/slog"

	"github.com/xraph/sparkcloud/api"
	"github.com/xraph/sparkcloud/device"
	"github.com/xraph/sparkcloud/event"
	"github.com/xraph/sparkcloud/firmware"
	"github.com/xraph/sparkcloud/observability"
	"github.com/xraph/sparkcloud/store"
)

// Option configures a Server.
type Option func(*Server) error

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(srv *Server) error {
		srv.store = s
		return nil
	}
}

// WithBus sets the event bus. Defaults to an in-process bus.
func WithBus(b event.Bus) Option {
	return func(srv *Server) error {
		srv.bus = b
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(srv *Server) error {
		srv.logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(srv *Server) error {
		srv.config = cfg
		return nil
	}
}

// WithMetrics enables Prometheus instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(srv *Server) error {
		srv.metrics = m
		return nil
	}
}

// WithTracer enables dispatch spans.
func WithTracer(t *observability.Tracer) Option {
	return func(srv *Server) error {
		srv.tracer = t
		return nil
	}
}

// WithDeviceServer sets where connected devices are looked up. Defaults to an
// empty device.Fleet.
func WithDeviceServer(s device.Server) Option {
	return func(srv *Server) error {
		srv.devices = s
		return nil
	}
}

// WithFirmware sets the repository of known firmware images.
func WithFirmware(r firmware.Repository) Option {
	return func(srv *Server) error {
		srv.firmware = r
		return nil
	}
}

// WithUserResolver sets how API access tokens map to users. Without one the
// Server exposes no HTTP API.
func WithUserResolver(u api.UserResolver) Option {
	return func(srv *Server) error {
		srv.users = u
		return nil
	}
}

// WithAPIOptions passes extra options to the HTTP API handler.
func WithAPIOptions(opts ...api.Option) Option {
	return func(srv *Server) error {
		srv.apiOpts = append(srv.apiOpts, opts...)
		return nil
	}
}
