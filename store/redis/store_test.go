package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/sparkcloud/device"
	"github.com/xraph/sparkcloud/id"
	"github.com/xraph/sparkcloud/internal/entity"
	"github.com/xraph/sparkcloud/webhook"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	s := New(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
}

func TestWebhookRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	verify := false
	base := time.Now().UTC().Truncate(time.Millisecond)
	wh := &webhook.Webhook{
		Entity:             entity.Entity{CreatedAt: base, UpdatedAt: base},
		ID:                 id.NewWebhookID(),
		OwnerID:            "u1",
		Event:              "temp",
		DeviceID:           "dev-1",
		URL:                "https://example.com/{{coreid}}",
		RequestType:        webhook.MethodPut,
		JSON:               map[string]any{"value": "{{data}}", "n": float64(3)},
		Headers:            map[string]string{"X-Key": "abc"},
		Auth:               &webhook.Auth{Username: "user", Password: "pw"},
		NoDefaults:         true,
		RejectUnauthorized: &verify,
		ResponseTopic:      "resp/{{SPARK_CORE_ID}}",
	}
	require.NoError(t, s.CreateWebhook(ctx, wh))

	got, err := s.GetWebhook(ctx, wh.ID)
	require.NoError(t, err)
	assert.Equal(t, wh.ID, got.ID)
	assert.Equal(t, wh.JSON, got.JSON)
	assert.Equal(t, wh.Headers, got.Headers)
	assert.Equal(t, wh.Auth, got.Auth)
	assert.False(t, got.VerifiesTLS())
	assert.True(t, got.CreatedAt.Equal(base))

	other := &webhook.Webhook{
		Entity:  entity.Entity{CreatedAt: base.Add(time.Second)},
		ID:      id.NewWebhookID(),
		OwnerID: "u2",
		Event:   "humidity",
		URL:     "https://example.com",
	}
	require.NoError(t, s.CreateWebhook(ctx, other))

	owned, err := s.ListWebhooks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, wh.ID, owned[0].ID)

	all, err := s.ListWebhooks(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, wh.ID, all[0].ID)

	require.NoError(t, s.DeleteWebhook(ctx, wh.ID))
	_, err = s.GetWebhook(ctx, wh.ID)
	assert.True(t, errors.Is(err, webhook.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteWebhook(ctx, wh.ID), webhook.ErrNotFound))

	owned, err = s.ListWebhooks(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestDeviceOwnerIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetAttributes(ctx, "dev-1")
	assert.True(t, errors.Is(err, device.ErrDeviceNotFound))

	require.NoError(t, s.SaveAttributes(ctx, &device.Attributes{DeviceID: "dev-1", OwnerID: "u1", Name: "alpha"}))
	require.NoError(t, s.SaveAttributes(ctx, &device.Attributes{DeviceID: "dev-0", OwnerID: "u1", Name: "zero"}))

	owned, err := s.ListAttributes(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, "dev-0", owned[0].DeviceID)

	// Transfer dev-1 to u2.
	require.NoError(t, s.SaveAttributes(ctx, &device.Attributes{DeviceID: "dev-1", OwnerID: "u2", Name: "alpha"}))

	owned, err = s.ListAttributes(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, owned, 1)

	owned, err = s.ListAttributes(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "alpha", owned[0].Name)
}

func TestDeviceKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetKey(ctx, "dev-1")
	assert.True(t, errors.Is(err, device.ErrDeviceNotFound))

	require.NoError(t, s.SaveKey(ctx, &device.Key{DeviceID: "dev-1", PublicKey: "pem"}))

	key, err := s.GetKey(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "pem", key.PublicKey)
	assert.False(t, key.CreatedAt.IsZero())
}
