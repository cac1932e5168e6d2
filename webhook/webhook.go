// Package webhook holds webhook definitions, their persistence contract, the
// owner-facing management service and the lookup table used to find the
// webhooks an incoming event should trigger.
package webhook

import (
	"errors"

	"github.com/xraph/sparkcloud/id"
	"github.com/xraph/sparkcloud/internal/entity"
)

// Request types accepted for RequestType.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
)

// ErrNotFound is returned when a webhook does not exist or is not visible to
// the requesting owner.
var ErrNotFound = errors.New("webhook: not found")

// Auth holds HTTP basic credentials sent with every call.
type Auth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Webhook maps device events to an outbound HTTP call.
type Webhook struct {
	entity.Entity

	// ID is the unique TypeID for this webhook.
	ID id.ID `json:"id"`

	// OwnerID is the user that created the webhook.
	OwnerID string `json:"ownerID"`

	// Event is the event-name prefix that triggers the webhook.
	Event string `json:"event"`

	// DeviceID, when set, restricts the webhook to one device.
	DeviceID string `json:"deviceID,omitempty"`

	// ProductIDOrSlug is kept for API compatibility; products are not modelled.
	ProductIDOrSlug string `json:"productIdOrSlug,omitempty"`

	// URL is the request URL template.
	URL string `json:"url"`

	// RequestType is the HTTP method.
	RequestType string `json:"requestType"`

	// Form is sent urlencoded; string leaves are templates.
	Form map[string]any `json:"form,omitempty"`

	// JSON is sent as a JSON body; string leaves are templates.
	JSON map[string]any `json:"json,omitempty"`

	// Query is appended to the URL; string leaves are templates.
	Query map[string]any `json:"query,omitempty"`

	// Headers are forwarded verbatim.
	Headers map[string]string `json:"headers,omitempty"`

	// Auth enables HTTP basic authentication.
	Auth *Auth `json:"auth,omitempty"`

	// MyDevices restricts the webhook to events from the owner's own devices.
	MyDevices bool `json:"mydevices,omitempty"`

	// NoDefaults suppresses the implicit form payload.
	NoDefaults bool `json:"noDefaults,omitempty"`

	// RejectUnauthorized toggles TLS certificate verification. Nil verifies.
	RejectUnauthorized *bool `json:"rejectUnauthorized,omitempty"`

	// ResponseTemplate renders the republished response from its JSON fields.
	ResponseTemplate string `json:"responseTemplate,omitempty"`

	// ResponseTopic overrides the "hook-response/<event>" topic.
	ResponseTopic string `json:"responseTopic,omitempty"`

	// ErrorResponseTopic overrides the "hook-error/<event>" topic.
	ErrorResponseTopic string `json:"errorResponseTopic,omitempty"`
}

// VerifiesTLS reports whether calls must verify the server certificate.
func (w *Webhook) VerifiesTLS() bool {
	return w.RejectUnauthorized == nil || *w.RejectUnauthorized
}
