// Package redisbus provides an event.Bus over Redis Pub/Sub, so several
// server instances share one stream of device events.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/sparkcloud/event"
)

// DefaultChannel is the Pub/Sub channel used when none is configured.
const DefaultChannel = "sparkcloud:events"

// compile-time interface check
var _ event.Bus = (*Bus)(nil)

// Bus publishes JSON-encoded events on a single Redis channel.
type Bus struct {
	rdb     goredis.UniversalClient
	channel string
	logger  *slog.Logger

	mu   sync.Mutex
	subs map[*goredis.PubSub]struct{}
	wg   sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithChannel overrides DefaultChannel.
func WithChannel(channel string) Option {
	return func(b *Bus) { b.channel = channel }
}

// WithLogger sets the logger used for undecodable messages.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// New creates a bus on top of an existing Redis client.
func New(rdb goredis.UniversalClient, opts ...Option) *Bus {
	b := &Bus{
		rdb:     rdb,
		channel: DefaultChannel,
		logger:  slog.Default(),
		subs:    make(map[*goredis.PubSub]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish encodes evt and publishes it on the bus channel.
func (b *Bus) Publish(ctx context.Context, evt *event.Event) error {
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("redisbus: marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("redisbus: publish %q: %w", evt.Name, err)
	}
	return nil
}

// Subscribe starts a receive loop that calls h for every event on the channel.
// It returns once Redis has confirmed the subscription.
func (b *Bus) Subscribe(ctx context.Context, h event.Handler) (func(), error) {
	ps := b.rdb.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redisbus: subscribe %q: %w", b.channel, err)
	}

	b.mu.Lock()
	b.subs[ps] = struct{}{}
	b.mu.Unlock()

	loopCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	msgs := ps.Channel()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range msgs {
			var evt event.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.logger.WarnContext(loopCtx, "redisbus: dropping undecodable message",
					"channel", msg.Channel, "error", err)
				continue
			}
			h(loopCtx, &evt)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			b.mu.Lock()
			delete(b.subs, ps)
			b.mu.Unlock()
			_ = ps.Close()
		})
	}, nil
}

// Close ends every subscription and waits for the receive loops to exit.
// The Redis client itself is owned by the caller.
func (b *Bus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*goredis.PubSub]struct{})
	b.mu.Unlock()

	for ps := range subs {
		_ = ps.Close()
	}
	b.wg.Wait()
	return nil
}
