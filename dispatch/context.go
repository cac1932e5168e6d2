package dispatch

import (
	"github.com/xraph/sparkcloud/event"
	"github.com/xraph/sparkcloud/template"
)

// Keys of the default request context.
const (
	KeyCoreID      = "coreid"
	KeyData        = "data"
	KeyEvent       = "event"
	KeyPublishedAt = "published_at"
)

// DefaultContext returns the standard identity fields of evt. It is the
// implicit form payload and the base every body is merged over.
func DefaultContext(evt *event.Event) map[string]any {
	return map[string]any{
		KeyCoreID:      evt.DeviceID,
		KeyData:        evt.Data,
		KeyEvent:       evt.Name,
		KeyPublishedAt: evt.PublishedAt.UTC().Format(template.TimeLayout),
	}
}

// RequestContext is DefaultContext with the fields of a JSON object payload
// layered on top. Payloads that are not JSON objects add nothing.
func RequestContext(evt *event.Event) map[string]any {
	ctx := DefaultContext(evt)
	if fields, ok := evt.ParseData(); ok {
		for k, v := range fields {
			ctx[k] = v
		}
	}
	return ctx
}

// TopicContext returns the tokens available to response and error topics.
func TopicContext(evt *event.Event) map[string]any {
	published := evt.PublishedAt.UTC().Format(template.TimeLayout)
	return map[string]any{
		"PARTICLE_DEVICE_ID":    evt.DeviceID,
		"PARTICLE_EVENT_NAME":   evt.Name,
		"PARTICLE_EVENT_VALUE":  evt.Data,
		"PARTICLE_PUBLISHED_AT": published,
		"SPARK_CORE_ID":         evt.DeviceID,
		"SPARK_EVENT_NAME":      evt.Name,
		"SPARK_EVENT_VALUE":     evt.Data,
		"SPARK_PUBLISHED_AT":    published,
	}
}
