package dispatch

import (
	"github.com/xraph/sparkcloud/event"
	"github.com/xraph/sparkcloud/template"
	"github.com/xraph/sparkcloud/webhook"
)

// Request is a fully compiled outbound call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Auth    *webhook.Auth

	// Query is appended to the URL.
	Query map[string]any

	// Form is sent urlencoded. At most one of Form and Body is set.
	Form map[string]any

	// Body is sent as JSON.
	Body map[string]any

	// Insecure disables TLS certificate verification.
	Insecure bool
}

// CompileRequest renders wh against evt. It never fails: missing tokens
// render empty and malformed event data only narrows the context.
func CompileRequest(wh *webhook.Webhook, evt *event.Event) *Request {
	defaults := DefaultContext(evt)
	ctx := RequestContext(evt)

	req := &Request{
		Method:   wh.RequestType,
		URL:      template.Compile(wh.URL, ctx),
		Headers:  wh.Headers,
		Auth:     wh.Auth,
		Insecure: !wh.VerifiesTLS(),
	}
	if req.Method == "" {
		req.Method = webhook.MethodPost
	}

	switch {
	case wh.JSON != nil:
		req.Body = merge(defaults, template.CompileObject(wh.JSON, ctx))
	case wh.Form != nil:
		req.Form = merge(defaults, template.CompileObject(wh.Form, ctx))
	case wh.NoDefaults:
	default:
		req.Form = defaults
	}

	if wh.Query != nil {
		req.Query = template.CompileObject(wh.Query, ctx)
	}

	return req
}

// merge returns base overlaid with over. Neither input is modified.
func merge(base, over map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
