package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/sparkcloud/event"
	"github.com/xraph/sparkcloud/id"
	"github.com/xraph/sparkcloud/observability"
	"github.com/xraph/sparkcloud/ratelimit"
	"github.com/xraph/sparkcloud/webhook"
)

// TooManyErrorsMessage is published once when a webhook is suspended.
const TooManyErrorsMessage = "Too many errors, webhook disabled"

// ErrClosed is returned by Close on a closed dispatcher.
var ErrClosed = errors.New("dispatch: dispatcher closed")

// Matcher finds the webhooks an event triggers.
type Matcher interface {
	Match(evt *event.Event) []*webhook.Webhook
}

// Config holds dispatcher configuration.
type Config struct {
	// RequestTimeout bounds each webhook call.
	RequestTimeout time.Duration

	// MaxResponseBody caps the bytes read from a response.
	MaxResponseBody int64

	// ChunkSize is the payload size of each published response event.
	ChunkSize int

	// MaxConsecutiveErrors suspends a webhook after this many failures in a
	// row. Zero disables suspension.
	MaxConsecutiveErrors int

	// ErrorCooldown is how long a suspended webhook stays suspended.
	ErrorCooldown time.Duration

	// RateLimit is the calls per second allowed per webhook. Zero is unlimited.
	RateLimit float64

	// RateBurst is the per-webhook burst. Zero uses RateLimit.
	RateBurst int

	// SigningSecret, when set, signs every outbound request.
	SigningSecret string
}

// DefaultConfig returns the stock dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:       DefaultRequestTimeout,
		MaxResponseBody:      DefaultMaxResponseBody,
		ChunkSize:            DefaultChunkSize,
		MaxConsecutiveErrors: DefaultMaxConsecutiveErrors,
		ErrorCooldown:        DefaultErrorCooldown,
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records dispatch metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer traces webhook calls.
func WithTracer(t *observability.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithCaller replaces the HTTP invoker.
func WithCaller(c Caller) Option {
	return func(d *Dispatcher) { d.caller = c }
}

// Dispatcher runs webhooks for events.
type Dispatcher struct {
	matcher   Matcher
	bus       event.Publisher
	caller    Caller
	responses *ResponsePublisher
	breaker   *breaker
	limiter   *ratelimit.Limiter
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *slog.Logger
	config    Config

	mu     sync.RWMutex // guards closed against wg.Add
	closed bool
	wg     sync.WaitGroup
}

// New creates a dispatcher. matcher may be nil when only Run is used.
func New(matcher Matcher, bus event.Publisher, cfg Config, opts ...Option) *Dispatcher {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ErrorCooldown <= 0 {
		cfg.ErrorCooldown = DefaultErrorCooldown
	}

	d := &Dispatcher{
		matcher: matcher,
		bus:     bus,
		config:  cfg,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.caller == nil {
		d.caller = NewInvoker(cfg.RequestTimeout,
			WithMaxResponseBody(cfg.MaxResponseBody),
			WithSigningSecret(cfg.SigningSecret),
		)
	}
	d.responses = NewResponsePublisher(bus, cfg.ChunkSize, d.metrics, d.logger)
	d.breaker = newBreaker(cfg.MaxConsecutiveErrors, cfg.ErrorCooldown)
	if cfg.RateLimit > 0 {
		d.limiter = ratelimit.New(cfg.RateLimit, ratelimit.WithBurst(cfg.RateBurst))
	}
	return d
}

// HandleEvent dispatches evt. It has the shape of event.Handler so the
// dispatcher can subscribe to a bus directly.
func (d *Dispatcher) HandleEvent(ctx context.Context, evt *event.Event) {
	d.Dispatch(ctx, evt)
}

// Dispatch runs every webhook evt triggers and returns how many were
// started. Events published by the engine itself are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, evt *event.Event) int {
	if evt == nil || evt.IsHookEvent() || d.matcher == nil {
		return 0
	}

	n := 0
	for _, wh := range d.matcher.Match(evt) {
		if d.Run(ctx, wh, evt) {
			n++
		}
	}
	return n
}

// Run fires wh for evt. The "hook-sent" notification is published before Run
// returns; the call and its outcome happen in the background. Run reports
// whether a call was started. A call skipped by the breaker or the throttle
// publishes nothing.
func (d *Dispatcher) Run(ctx context.Context, wh *webhook.Webhook, evt *event.Event) bool {
	key := wh.ID.String()

	if !d.acquire() {
		d.logger.WarnContext(ctx, "dispatcher closed, webhook skipped",
			"webhook_id", key,
			"event", evt.Name,
		)
		return false
	}

	if d.breaker.open(key) {
		d.wg.Done()
		d.metrics.RecordDispatch(observability.OutcomeTripped, 0)
		d.logger.DebugContext(ctx, "webhook suspended after repeated errors",
			"webhook_id", key,
			"event", evt.Name,
		)
		return false
	}

	if !d.limiter.Allow(key) {
		d.wg.Done()
		d.metrics.RecordDispatch(observability.OutcomeThrottled, 0)
		d.logger.WarnContext(ctx, "webhook throttled",
			"webhook_id", key,
			"event", evt.Name,
		)
		return false
	}

	if err := d.responses.PublishSent(ctx, evt); err != nil {
		d.logger.ErrorContext(ctx, "publish hook-sent failed",
			"webhook_id", key,
			"event", evt.Name,
			"error", err,
		)
	}

	req := CompileRequest(wh, evt)

	// The call outlives the caller's context; only the timeout bounds it.
	bg := context.WithoutCancel(ctx)

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.ErrorContext(bg, "webhook dispatch panicked",
					"webhook_id", key,
					"event", evt.Name,
					"panic", fmt.Sprint(r),
				)
			}
		}()
		d.invoke(bg, wh, evt, req)
	}()

	return true
}

// acquire registers a dispatch unless the dispatcher is closed.
func (d *Dispatcher) acquire() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}
	d.wg.Add(1)
	return true
}

func (d *Dispatcher) invoke(ctx context.Context, wh *webhook.Webhook, evt *event.Event, req *Request) {
	key := wh.ID.String()
	dispatchID := id.NewDispatchID().String()

	var span trace.Span
	callCtx := ctx
	if d.tracer != nil {
		callCtx, span = d.tracer.StartDispatchSpan(ctx, dispatchID, key, evt.Name)
	}

	callCtx, cancel := context.WithTimeout(callCtx, d.config.RequestTimeout)
	defer cancel()

	d.metrics.InFlight(1)
	start := time.Now()
	resp, err := d.caller.Invoke(callCtx, req)
	latency := time.Since(start)
	d.metrics.InFlight(-1)

	status := 0
	switch {
	case resp != nil:
		status = resp.StatusCode
	case err != nil:
		var ce *CallError
		if errors.As(err, &ce) {
			status = ce.StatusCode
		}
	}
	if span != nil {
		d.tracer.EndDispatchSpan(span, status, int(latency.Milliseconds()), err)
	}

	if err != nil {
		d.metrics.RecordDispatch(observability.OutcomeFailed, latency.Seconds())
		d.logger.WarnContext(ctx, "webhook call failed",
			"dispatch_id", dispatchID,
			"webhook_id", key,
			"event", evt.Name,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"error", err,
		)

		d.responses.Publish(ctx, wh, evt, nil, err)
		if d.breaker.failure(key) {
			d.logger.WarnContext(ctx, "webhook suspended",
				"webhook_id", key,
				"failures", d.config.MaxConsecutiveErrors,
				"cooldown", d.config.ErrorCooldown,
			)
			d.responses.PublishError(ctx, wh, evt, TooManyErrorsMessage)
		}
		return
	}

	d.breaker.success(key)
	d.metrics.RecordDispatch(observability.OutcomeSucceeded, latency.Seconds())
	d.logger.DebugContext(ctx, "webhook call succeeded",
		"dispatch_id", dispatchID,
		"webhook_id", key,
		"event", evt.Name,
		"status", status,
		"latency_ms", latency.Milliseconds(),
	)

	d.responses.Publish(ctx, wh, evt, resp, nil)
}

// Forget drops per-webhook throttle and breaker state, e.g. after deletion.
func (d *Dispatcher) Forget(hookID id.ID) {
	d.limiter.Forget(hookID.String())
	d.breaker.success(hookID.String())
}

// Wait blocks until in-flight dispatches finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting dispatches and waits for in-flight ones.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	d.mu.Unlock()

	return d.Wait(ctx)
}
