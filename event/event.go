// Package event defines device and server events and the bus they travel on.
package event

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// DefaultTTL is the time-to-live, in seconds, applied to events that do not set one.
const DefaultTTL = 60

// Name prefixes of events published by the webhook engine itself.
const (
	PrefixHookSent     = "hook-sent/"
	PrefixHookResponse = "hook-response/"
	PrefixHookError    = "hook-error/"
)

// Event is an immutable record of something a device or the server reported.
type Event struct {
	// Name is the event name, e.g. "temperature" or "hook-response/temperature/0".
	Name string `json:"name"`

	// DeviceID is the originating device, empty for server-originated events.
	DeviceID string `json:"deviceID,omitempty"`

	// UserID is the owner the event is associated with.
	UserID string `json:"userID"`

	// Data is the optional payload, often JSON-encoded.
	Data string `json:"data,omitempty"`

	// IsPublic marks events visible to subscribers other than the owner.
	IsPublic bool `json:"isPublic"`

	// TTL is the time-to-live in seconds.
	TTL int `json:"ttl"`

	// PublishedAt is when the event entered the bus.
	PublishedAt time.Time `json:"publishedAt"`
}

// New returns a private event stamped with the default TTL and the current time.
func New(name, userID, data string) *Event {
	return &Event{
		Name:        name,
		UserID:      userID,
		Data:        data,
		TTL:         DefaultTTL,
		PublishedAt: time.Now().UTC(),
	}
}

// ParseData decodes Data as a JSON object. It reports false when Data is empty,
// is not valid JSON, or is JSON but not an object.
func (e *Event) ParseData() (map[string]any, bool) {
	if e == nil || strings.TrimSpace(e.Data) == "" {
		return nil, false
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(e.Data), &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

// IsHookEvent reports whether the event was emitted by the webhook engine.
func (e *Event) IsHookEvent() bool {
	return strings.HasPrefix(e.Name, PrefixHookSent) ||
		strings.HasPrefix(e.Name, PrefixHookResponse) ||
		strings.HasPrefix(e.Name, PrefixHookError)
}

// Handler consumes events delivered by a Subscriber.
type Handler func(ctx context.Context, evt *Event)

// Publisher writes events to the bus. Publish must be safe for concurrent use,
// and each call is independent of every other.
type Publisher interface {
	Publish(ctx context.Context, evt *Event) error
}

// Subscriber registers handlers for every event on the bus. The returned
// function removes the subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, h Handler) (func(), error)
}

// Bus is both a Publisher and a Subscriber.
type Bus interface {
	Publisher
	Subscriber
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, evt *Event) error

// Publish calls f(ctx, evt).
func (f PublisherFunc) Publish(ctx context.Context, evt *Event) error {
	return f(ctx, evt)
}
