package webhook

// Input is the creation payload for webhooks.
type Input struct {
	OwnerID            string            `json:"ownerID"`
	Event              string            `json:"event"`
	DeviceID           string            `json:"deviceID,omitempty"`
	ProductIDOrSlug    string            `json:"productIdOrSlug,omitempty"`
	URL                string            `json:"url"`
	RequestType        string            `json:"requestType,omitempty"`
	Form               map[string]any    `json:"form,omitempty"`
	JSON               map[string]any    `json:"json,omitempty"`
	Query              map[string]any    `json:"query,omitempty"`
	Headers            map[string]string `json:"headers,omitempty"`
	Auth               *Auth             `json:"auth,omitempty"`
	MyDevices          bool              `json:"mydevices,omitempty"`
	NoDefaults         bool              `json:"noDefaults,omitempty"`
	RejectUnauthorized *bool             `json:"rejectUnauthorized,omitempty"`
	ResponseTemplate   string            `json:"responseTemplate,omitempty"`
	ResponseTopic      string            `json:"responseTopic,omitempty"`
	ErrorResponseTopic string            `json:"errorResponseTopic,omitempty"`
}
