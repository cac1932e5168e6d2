package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/xraph/sparkcloud/event"
	"github.com/xraph/sparkcloud/id"
	"github.com/xraph/sparkcloud/webhook"
)

var testPublishedAt = time.Date(2017, 3, 4, 5, 6, 7, 890_000_000, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []*event.Event
	err    error
}

func (r *recorder) Publish(_ context.Context, evt *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) all() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*event.Event(nil), r.events...)
}

func (r *recorder) withPrefix(prefix string) []*event.Event {
	var out []*event.Event
	for _, e := range r.all() {
		if strings.HasPrefix(e.Name, prefix) {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) names() []string {
	var out []string
	for _, e := range r.all() {
		out = append(out, e.Name)
	}
	return out
}

func testEvent(name, data string) *event.Event {
	return &event.Event{
		Name:        name,
		DeviceID:    "D1",
		UserID:      "u1",
		Data:        data,
		TTL:         event.DefaultTTL,
		PublishedAt: testPublishedAt,
	}
}

func testWebhook(url string) *webhook.Webhook {
	return &webhook.Webhook{
		ID:          id.NewWebhookID(),
		OwnerID:     "u1",
		Event:       "test-event",
		URL:         url,
		RequestType: webhook.MethodPost,
	}
}
