package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/sparkcloud/event"
	"github.com/xraph/sparkcloud/observability"
	"github.com/xraph/sparkcloud/template"
	"github.com/xraph/sparkcloud/webhook"
)

// DefaultChunkSize is the largest payload, in bytes, carried by one
// published response event.
const DefaultChunkSize = 512

// ResponsePublisher republishes webhook outcomes on the event bus.
type ResponsePublisher struct {
	bus       event.Publisher
	chunkSize int
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewResponsePublisher creates a publisher splitting payloads into chunks of
// chunkSize bytes.
func NewResponsePublisher(bus event.Publisher, chunkSize int, metrics *observability.Metrics, logger *slog.Logger) *ResponsePublisher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponsePublisher{
		bus:       bus,
		chunkSize: chunkSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// Publish reports the outcome of a call to wh triggered by evt. Exactly one
// of resp and callErr is expected to be non-nil.
func (p *ResponsePublisher) Publish(ctx context.Context, wh *webhook.Webhook, evt *event.Event, resp *Response, callErr error) {
	if callErr != nil || resp == nil {
		if callErr == nil {
			callErr = errors.New("dispatch: no response")
		}
		p.PublishError(ctx, wh, evt, failureMessage(callErr))
		return
	}

	payload := string(resp.Body)
	if wh.ResponseTemplate != "" {
		payload = template.Compile(wh.ResponseTemplate, responseFields(resp.Body))
	}

	p.publishChunks(ctx, ResponseTopic(wh, evt), evt.UserID, payload, observability.KindResponse)
}

// PublishError publishes msg on the error topic of wh.
func (p *ResponsePublisher) PublishError(ctx context.Context, wh *webhook.Webhook, evt *event.Event, msg string) {
	p.publishChunks(ctx, ErrorTopic(wh, evt), evt.UserID, msg, observability.KindError)
}

// PublishSent announces that a call to a webhook is about to start.
func (p *ResponsePublisher) PublishSent(ctx context.Context, evt *event.Event) error {
	sent := event.New(event.PrefixHookSent+evt.Name, evt.UserID, "")
	if err := p.bus.Publish(ctx, sent); err != nil {
		return err
	}
	p.metrics.RecordPublished(observability.KindSent)
	return nil
}

func (p *ResponsePublisher) publishChunks(ctx context.Context, topic, userID, payload, kind string) {
	for i, chunk := range SplitChunks(payload, p.chunkSize) {
		out := &event.Event{
			Name:        topic + "/" + strconv.Itoa(i),
			UserID:      userID,
			Data:        chunk,
			TTL:         event.DefaultTTL,
			PublishedAt: time.Now().UTC(),
		}
		if err := p.bus.Publish(ctx, out); err != nil {
			p.logger.ErrorContext(ctx, "publish webhook outcome failed",
				"topic", out.Name,
				"chunk", i,
				"error", err,
			)
			return
		}
		p.metrics.RecordPublished(kind)
	}
}

// ResponseTopic is the topic prefix for successful calls.
func ResponseTopic(wh *webhook.Webhook, evt *event.Event) string {
	if wh.ResponseTopic != "" {
		return template.Compile(wh.ResponseTopic, TopicContext(evt))
	}
	return event.PrefixHookResponse + evt.Name
}

// ErrorTopic is the topic prefix for failed calls.
func ErrorTopic(wh *webhook.Webhook, evt *event.Event) string {
	if wh.ErrorResponseTopic != "" {
		return template.Compile(wh.ErrorResponseTopic, TopicContext(evt))
	}
	return event.PrefixHookError + evt.Name
}

// SplitChunks cuts payload into pieces of at most size bytes. An empty
// payload yields a single empty chunk.
func SplitChunks(payload string, size int) []string {
	if size <= 0 || len(payload) <= size {
		return []string{payload}
	}

	chunks := make([]string, 0, (len(payload)+size-1)/size)
	for len(payload) > size {
		chunks = append(chunks, payload[:size])
		payload = payload[size:]
	}
	return append(chunks, payload)
}

// responseFields decodes the top-level fields of a JSON object body.
func responseFields(body []byte) map[string]any {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil
	}
	return fields
}

func failureMessage(err error) string {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Message()
	}
	return err.Error()
}
