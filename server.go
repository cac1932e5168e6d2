package sparkcloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/xraph/sparkcloud/api"
	"github.com/xraph/sparkcloud/device"
	"github.com/xraph/sparkcloud/dispatch"
	"github.com/xraph/sparkcloud/event"
	"github.com/xraph/sparkcloud/event/membus"
	"github.com/xraph/sparkcloud/firmware"
	"github.com/xraph/sparkcloud/id"
	"github.com/xraph/sparkcloud/observability"
	"github.com/xraph/sparkcloud/store"
	"github.com/xraph/sparkcloud/webhook"
)

// compile-time interface check.
var _ event.Publisher = (*Server)(nil)

// Server is the root of a sparkcloud instance.
type Server struct {
	config   Config
	store    store.Store
	bus      event.Bus
	devices  device.Server
	firmware firmware.Repository
	users    api.UserResolver
	apiOpts  []api.Option
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   *slog.Logger

	registry   *webhook.Registry
	webhookSvc *webhook.Service
	deviceMgr  *device.Manager
	dispatcher *dispatch.Dispatcher
	handler    http.Handler

	mu          sync.Mutex
	started     bool
	stopped     bool
	unsubscribe func()
}

// New creates a Server with the given options.
func New(opts ...Option) (*Server, error) {
	srv := &Server{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(srv); err != nil {
			return nil, err
		}
	}
	if srv.store == nil {
		return nil, ErrNoStore
	}
	if srv.bus == nil {
		srv.bus = membus.New()
	}
	if srv.devices == nil {
		srv.devices = device.NewFleet()
	}
	srv.wireServices()
	return srv, nil
}

// wireServices initializes the internal services after options have been applied.
func (srv *Server) wireServices() {
	srv.registry = webhook.NewRegistry()

	srv.webhookSvc = webhook.NewService(srv.store, srv.registry, srv.config.limits(), srv.logger)

	srv.dispatcher = srv.newDispatcher()
	srv.webhookSvc.OnDelete(func(hookID id.ID) {
		srv.Dispatcher().Forget(hookID)
	})

	srv.deviceMgr = device.NewManager(srv.store, srv.devices, srv.firmware,
		device.WithLogger(srv.logger),
		device.WithMaxWorkers(srv.config.DeviceWorkers),
	)

	if srv.users != nil {
		opts := []api.Option{
			api.WithLogger(srv.logger),
			api.WithPublisher(srv),
			api.WithFirmware(srv.firmware),
		}
		srv.handler = api.NewHandler(srv.webhookSvc, srv.deviceMgr, srv.users, append(opts, srv.apiOpts...)...)
	}
}

func (srv *Server) newDispatcher() *dispatch.Dispatcher {
	return dispatch.New(srv.registry, srv.bus, srv.config.dispatchConfig(),
		dispatch.WithLogger(srv.logger),
		dispatch.WithMetrics(srv.metrics),
		dispatch.WithTracer(srv.tracer),
	)
}

// Start loads the stored webhooks and subscribes the dispatcher to the bus.
// A Server can be started again after Stop; it gets a fresh dispatcher with
// no breaker or throttle state.
func (srv *Server) Start(ctx context.Context) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.started {
		return ErrAlreadyStarted
	}
	if srv.stopped {
		srv.dispatcher = srv.newDispatcher()
		srv.stopped = false
	}

	if err := srv.registry.Load(ctx, srv.store); err != nil {
		return fmt.Errorf("sparkcloud: load webhooks: %w", err)
	}

	unsubscribe, err := srv.bus.Subscribe(ctx, srv.dispatcher.HandleEvent)
	if err != nil {
		return fmt.Errorf("sparkcloud: subscribe dispatcher: %w", err)
	}

	srv.unsubscribe = unsubscribe
	srv.started = true

	srv.logger.InfoContext(ctx, "sparkcloud started", "webhooks", srv.registry.Len())
	return nil
}

// Stop unsubscribes the dispatcher and waits up to ShutdownTimeout for
// in-flight webhook calls. The store and bus stay open; they belong to the
// caller.
func (srv *Server) Stop(ctx context.Context) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if !srv.started {
		return ErrNotStarted
	}
	srv.unsubscribe()
	srv.started = false
	srv.stopped = true

	if srv.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, srv.config.ShutdownTimeout)
		defer cancel()
	}

	if err := srv.dispatcher.Close(ctx); err != nil {
		return fmt.Errorf("sparkcloud: stop dispatcher: %w", err)
	}

	srv.logger.InfoContext(ctx, "sparkcloud stopped")
	return nil
}

// Publish puts evt on the bus, stamping the publish time when unset.
func (srv *Server) Publish(ctx context.Context, evt *event.Event) error {
	if evt.PublishedAt.IsZero() {
		evt.PublishedAt = nowUTC()
	}
	if evt.TTL <= 0 {
		evt.TTL = event.DefaultTTL
	}
	if err := srv.bus.Publish(ctx, evt); err != nil {
		return fmt.Errorf("sparkcloud: publish %q: %w", evt.Name, err)
	}
	return nil
}

// ReloadWebhooks refreshes the in-memory webhook table from the store, for
// deployments where several instances share one store.
func (srv *Server) ReloadWebhooks(ctx context.Context) error {
	return srv.registry.Load(ctx, srv.store)
}

// Handler returns the HTTP API, or nil when no user resolver was configured.
func (srv *Server) Handler() http.Handler {
	return srv.handler
}

// Webhooks returns the webhook management service.
func (srv *Server) Webhooks() *webhook.Service {
	return srv.webhookSvc
}

// Devices returns the device manager.
func (srv *Server) Devices() *device.Manager {
	return srv.deviceMgr
}

// Dispatcher returns the webhook dispatcher.
func (srv *Server) Dispatcher() *dispatch.Dispatcher {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.dispatcher
}

// Store returns the underlying store.
func (srv *Server) Store() store.Store {
	return srv.store
}

// Bus returns the event bus.
func (srv *Server) Bus() event.Bus {
	return srv.bus
}
