// Command sparkcloud runs the device cloud server: the HTTP API, the event
// bus and the webhook dispatcher.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/xraph/sparkcloud"
	"github.com/xraph/sparkcloud/api"
	"github.com/xraph/sparkcloud/event"
	"github.com/xraph/sparkcloud/event/membus"
	"github.com/xraph/sparkcloud/event/redisbus"
	"github.com/xraph/sparkcloud/firmware"
	"github.com/xraph/sparkcloud/internal/config"
	"github.com/xraph/sparkcloud/observability"
	"github.com/xraph/sparkcloud/store"
	"github.com/xraph/sparkcloud/store/memory"
	redisstore "github.com/xraph/sparkcloud/store/redis"
)

func main() {
	if err := run(); err != nil {
		slog.Error("sparkcloud exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb goredis.UniversalClient
	if cfg.Store.Driver == config.DriverRedis || cfg.Bus.Driver == config.DriverRedis {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// The Redis store owns the client and closes it.
	st := openStore(cfg, rdb)
	defer st.Close()
	if rdb != nil && cfg.Store.Driver != config.DriverRedis {
		defer rdb.Close()
	}
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}

	bus, closeBus := openBus(cfg, rdb, logger)
	defer closeBus()

	repo, err := openFirmware(ctx, cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background()) //nolint:errcheck // best effort on exit

	srv, err := sparkcloud.New(
		sparkcloud.WithStore(st),
		sparkcloud.WithBus(bus),
		sparkcloud.WithFirmware(repo),
		sparkcloud.WithConfig(cfg.Server()),
		sparkcloud.WithLogger(logger),
		sparkcloud.WithMetrics(observability.NewMetrics(reg)),
		sparkcloud.WithTracer(observability.NewTracerWithProvider(tp)),
		sparkcloud.WithUserResolver(api.StaticTokens(cfg.Tokens)),
		sparkcloud.WithAPIOptions(api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))),
	)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTP.Addr, "store", cfg.Store.Driver, "bus", cfg.Bus.Driver)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	return srv.Stop(shutdownCtx)
}

func openStore(cfg *config.Config, rdb goredis.UniversalClient) store.Store {
	if cfg.Store.Driver == config.DriverRedis {
		return redisstore.New(rdb)
	}
	return memory.New()
}

func openBus(cfg *config.Config, rdb goredis.UniversalClient, logger *slog.Logger) (event.Bus, func()) {
	if cfg.Bus.Driver == config.DriverRedis {
		b := redisbus.New(rdb, redisbus.WithChannel(cfg.Bus.Channel), redisbus.WithLogger(logger))
		return b, func() { _ = b.Close() }
	}
	b := membus.New()
	return b, func() { _ = b.Close() }
}

func openFirmware(ctx context.Context, cfg *config.Config) (firmware.Repository, error) {
	if cfg.Firmware.Driver == config.DriverS3 {
		repo, err := firmware.NewS3Repository(ctx, cfg.Firmware.S3)
		if err != nil {
			return nil, fmt.Errorf("firmware: %w", err)
		}
		return repo, nil
	}
	return firmware.NewFileRepository(cfg.Firmware.Dir), nil
}
