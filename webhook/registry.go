package webhook

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/xraph/sparkcloud/event"
	"github.com/xraph/sparkcloud/id"
)

// Registry is an in-process lookup table of webhooks keyed by event prefix.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	byPrefix map[string]map[string]*Webhook
	byID     map[string]string // webhook ID -> prefix
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byPrefix: make(map[string]map[string]*Webhook),
		byID:     make(map[string]string),
	}
}

// Load replaces the registry contents with every webhook in store.
func (r *Registry) Load(ctx context.Context, store Store) error {
	hooks, err := store.ListWebhooks(ctx, "")
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byPrefix = make(map[string]map[string]*Webhook, len(hooks))
	r.byID = make(map[string]string, len(hooks))
	for _, wh := range hooks {
		r.addLocked(wh)
	}
	return nil
}

// Add inserts or replaces wh.
func (r *Registry) Add(wh *Webhook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(wh.ID.String())
	r.addLocked(wh)
}

// Remove drops the webhook with the given ID, if present.
func (r *Registry) Remove(hookID id.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(hookID.String())
}

// Len returns the number of registered webhooks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID)
}

// Match returns the webhooks evt should trigger, oldest first.
func (r *Registry) Match(evt *event.Event) []*Webhook {
	r.mu.RLock()
	var out []*Webhook
	for prefix, hooks := range r.byPrefix {
		if !strings.HasPrefix(evt.Name, prefix) {
			continue
		}
		for _, wh := range hooks {
			if Matches(wh, evt) {
				out = append(out, wh)
			}
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (r *Registry) addLocked(wh *Webhook) {
	key := wh.ID.String()
	hooks, ok := r.byPrefix[wh.Event]
	if !ok {
		hooks = make(map[string]*Webhook)
		r.byPrefix[wh.Event] = hooks
	}
	hooks[key] = wh
	r.byID[key] = wh.Event
}

func (r *Registry) removeLocked(key string) {
	prefix, ok := r.byID[key]
	if !ok {
		return
	}
	delete(r.byID, key)

	hooks := r.byPrefix[prefix]
	delete(hooks, key)
	if len(hooks) == 0 {
		delete(r.byPrefix, prefix)
	}
}
