// Package memory provides an in-memory Store implementation for tests and
// single-node deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/sparkcloud/device"
	"github.com/xraph/sparkcloud/id"
	"github.com/xraph/sparkcloud/store"
	"github.com/xraph/sparkcloud/webhook"
)

// compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	webhooks map[string]*webhook.Webhook // keyed by ID string
	devices  map[string]*device.Attributes
	keys     map[string]*device.Key

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		webhooks: make(map[string]*webhook.Webhook),
		devices:  make(map[string]*device.Attributes),
		keys:     make(map[string]*device.Key),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Ping reports ErrClosed after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

// CreateWebhook persists a webhook.
func (s *Store) CreateWebhook(_ context.Context, wh *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	s.webhooks[wh.ID.String()] = cloneWebhook(wh)
	return nil
}

// GetWebhook returns a webhook by ID.
func (s *Store) GetWebhook(_ context.Context, hookID id.ID) (*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wh, ok := s.webhooks[hookID.String()]
	if !ok {
		return nil, webhook.ErrNotFound
	}
	return cloneWebhook(wh), nil
}

// DeleteWebhook removes a webhook.
func (s *Store) DeleteWebhook(_ context.Context, hookID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hookID.String()
	if _, ok := s.webhooks[key]; !ok {
		return webhook.ErrNotFound
	}
	delete(s.webhooks, key)
	return nil
}

// ListWebhooks returns the webhooks of ownerID, or all when ownerID is empty.
func (s *Store) ListWebhooks(_ context.Context, ownerID string) ([]*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*webhook.Webhook
	for _, wh := range s.webhooks {
		if ownerID != "" && wh.OwnerID != ownerID {
			continue
		}
		out = append(out, cloneWebhook(wh))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ──────────────────────────────────────────────────
// device.Store
// ──────────────────────────────────────────────────

// GetAttributes returns a device record.
func (s *Store) GetAttributes(_ context.Context, deviceID string) (*device.Attributes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attrs, ok := s.devices[deviceID]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	cp := *attrs
	return &cp, nil
}

// SaveAttributes upserts a device record.
func (s *Store) SaveAttributes(_ context.Context, attrs *device.Attributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	cp := *attrs
	s.devices[attrs.DeviceID] = &cp
	return nil
}

// ListAttributes returns the devices owned by ownerID.
func (s *Store) ListAttributes(_ context.Context, ownerID string) ([]*device.Attributes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*device.Attributes
	for _, attrs := range s.devices {
		if attrs.OwnerID != ownerID {
			continue
		}
		cp := *attrs
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// SaveKey upserts a device public key.
func (s *Store) SaveKey(_ context.Context, key *device.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	cp := *key
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.keys[key.DeviceID] = &cp
	return nil
}

// GetKey returns a device public key.
func (s *Store) GetKey(_ context.Context, deviceID string) (*device.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[deviceID]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	cp := *key
	return &cp, nil
}

// cloneWebhook copies the top-level record so callers cannot mutate stored
// state. Template maps are shared; they are never mutated after creation.
func cloneWebhook(wh *webhook.Webhook) *webhook.Webhook {
	cp := *wh
	return &cp
}
