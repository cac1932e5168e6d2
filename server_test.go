package sparkcloud_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/sparkcloud"
	"github.com/xraph/sparkcloud/api"
	"github.com/xraph/sparkcloud/event"
	"github.com/xraph/sparkcloud/store/memory"
	"github.com/xraph/sparkcloud/webhook"
)

type collector struct {
	mu     sync.Mutex
	events []*event.Event
}

func (c *collector) handle(_ context.Context, evt *event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collector) named(prefix string) []*event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*event.Event
	for _, e := range c.events {
		if strings.HasPrefix(e.Name, prefix) {
			out = append(out, e)
		}
	}
	return out
}

func newServer(t *testing.T, opts ...sparkcloud.Option) *sparkcloud.Server {
	t.Helper()

	srv, err := sparkcloud.New(append([]sparkcloud.Option{sparkcloud.WithStore(memory.New())}, opts...)...)
	require.NoError(t, err)
	return srv
}

func TestNewRequiresStore(t *testing.T) {
	_, err := sparkcloud.New()
	assert.ErrorIs(t, err, sparkcloud.ErrNoStore)
}

func TestStartStop(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	assert.ErrorIs(t, srv.Stop(ctx), sparkcloud.ErrNotStarted)

	require.NoError(t, srv.Start(ctx))
	assert.ErrorIs(t, srv.Start(ctx), sparkcloud.ErrAlreadyStarted)
	require.NoError(t, srv.Stop(ctx))
}

func TestHandlerRequiresUserResolver(t *testing.T) {
	assert.Nil(t, newServer(t).Handler())
	assert.NotNil(t, newServer(t, sparkcloud.WithUserResolver(api.StaticTokens{"t": "u1"})).Handler())
}

func TestStartLoadsStoredWebhooks(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	var hits sync.WaitGroup
	hits.Add(1)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Done()
	}))
	defer target.Close()

	// Created by an earlier process.
	first, err := sparkcloud.New(sparkcloud.WithStore(s))
	require.NoError(t, err)
	_, err = first.Webhooks().Create(ctx, webhook.Input{OwnerID: "u1", Event: "temp", URL: target.URL})
	require.NoError(t, err)

	srv, err := sparkcloud.New(sparkcloud.WithStore(s))
	require.NoError(t, err)
	require.NoError(t, srv.Start(ctx))

	evt := event.New("temp", "u1", "21")
	evt.DeviceID = "D1"
	require.NoError(t, srv.Publish(ctx, evt))

	hits.Wait()
	require.NoError(t, srv.Stop(ctx))
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()

	var (
		mu   sync.Mutex
		body string
	)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = string(raw)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"forecast":"sunny"}`)) //nolint:errcheck // test server
	}))
	defer target.Close()

	srv := newServer(t, sparkcloud.WithUserResolver(api.StaticTokens{"tok": "u1"}))
	require.NoError(t, srv.Start(ctx))

	seen := &collector{}
	cancel, err := srv.Bus().Subscribe(ctx, seen.handle)
	require.NoError(t, err)
	defer cancel()

	_, err = srv.Webhooks().Create(ctx, webhook.Input{
		OwnerID:          "u1",
		Event:            "weather",
		URL:              target.URL,
		JSON:             map[string]any{"city": "{{{data}}}"},
		ResponseTemplate: "{{{forecast}}}",
	})
	require.NoError(t, err)

	apiSrv := httptest.NewServer(srv.Handler())
	defer apiSrv.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiSrv.URL+"/v1/devices/events",
		strings.NewReader(`{"name":"weather","data":"Lisbon"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return len(seen.named(event.PrefixHookResponse)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	responses := seen.named(event.PrefixHookResponse)
	assert.Equal(t, "hook-response/weather/0", responses[0].Name)
	assert.Equal(t, "sunny", responses[0].Data)
	assert.Equal(t, "u1", responses[0].UserID)
	assert.Len(t, seen.named(event.PrefixHookSent), 1)

	mu.Lock()
	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &sent))
	mu.Unlock()
	assert.Equal(t, "Lisbon", sent["city"])
	assert.Equal(t, "weather", sent["event"])

	require.NoError(t, srv.Stop(ctx))
}

func TestRestartKeepsDispatching(t *testing.T) {
	ctx := context.Background()

	var (
		mu   sync.Mutex
		hits int
	)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer target.Close()

	srv := newServer(t)
	seen := &collector{}
	cancel, err := srv.Bus().Subscribe(ctx, seen.handle)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, srv.Start(ctx))
	_, err = srv.Webhooks().Create(ctx, webhook.Input{OwnerID: "u1", Event: "temp", URL: target.URL})
	require.NoError(t, err)
	require.NoError(t, srv.Stop(ctx))

	require.NoError(t, srv.Start(ctx))
	defer srv.Stop(ctx) //nolint:errcheck // test cleanup

	require.NoError(t, srv.Publish(ctx, event.New("temp", "u1", "21")))

	require.Eventually(t, func() bool {
		return len(seen.named(event.PrefixHookResponse)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, seen.named(event.PrefixHookSent), 1)

	mu.Lock()
	assert.Equal(t, 1, hits)
	mu.Unlock()
}

func TestDeleteAfterRestartForgetsBreakerState(t *testing.T) {
	ctx := context.Background()

	cfg := sparkcloud.DefaultConfig()
	cfg.MaxConsecutiveErrors = 1
	srv := newServer(t, sparkcloud.WithConfig(cfg))
	require.NoError(t, srv.Start(ctx))
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop(ctx) //nolint:errcheck // test cleanup

	wh, err := srv.Webhooks().Create(ctx, webhook.Input{OwnerID: "u1", Event: "temp", URL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	evt := event.New("temp", "u1", "")
	require.True(t, srv.Dispatcher().Run(ctx, wh, evt))
	require.NoError(t, srv.Dispatcher().Wait(ctx))
	assert.False(t, srv.Dispatcher().Run(ctx, wh, evt), "breaker should be open")

	require.NoError(t, srv.Webhooks().Delete(ctx, wh.ID, "u1"))
	assert.True(t, srv.Dispatcher().Run(ctx, wh, evt))
	require.NoError(t, srv.Dispatcher().Wait(ctx))
}

func TestDeleteForgetsBreakerState(t *testing.T) {
	ctx := context.Background()

	cfg := sparkcloud.DefaultConfig()
	cfg.MaxConsecutiveErrors = 1
	srv := newServer(t, sparkcloud.WithConfig(cfg))
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop(ctx) //nolint:errcheck // test cleanup

	wh, err := srv.Webhooks().Create(ctx, webhook.Input{OwnerID: "u1", Event: "temp", URL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	evt := event.New("temp", "u1", "")
	require.True(t, srv.Dispatcher().Run(ctx, wh, evt))
	require.NoError(t, srv.Dispatcher().Wait(ctx))
	assert.False(t, srv.Dispatcher().Run(ctx, wh, evt), "breaker should be open")

	require.NoError(t, srv.Webhooks().Delete(ctx, wh.ID, "u1"))
	assert.True(t, srv.Dispatcher().Run(ctx, wh, evt), "delete should reset breaker")
	require.NoError(t, srv.Dispatcher().Wait(ctx))
}

func TestReexportedErrors(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	_, err := srv.Devices().GetByID(ctx, "missing", "u1")
	assert.True(t, errors.Is(err, sparkcloud.ErrDeviceNotFound))
}
