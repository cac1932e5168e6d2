package webhook

import (
	"context"

	"github.com/xraph/sparkcloud/id"
)

// Store defines the persistence contract for webhook definitions.
type Store interface {
	// CreateWebhook persists a new webhook.
	CreateWebhook(ctx context.Context, wh *Webhook) error

	// GetWebhook returns a webhook by ID, or ErrNotFound.
	GetWebhook(ctx context.Context, hookID id.ID) (*Webhook, error)

	// DeleteWebhook removes a webhook, or returns ErrNotFound.
	DeleteWebhook(ctx context.Context, hookID id.ID) error

	// ListWebhooks returns the webhooks of ownerID, or every webhook when
	// ownerID is empty, oldest first.
	ListWebhooks(ctx context.Context, ownerID string) ([]*Webhook, error)
}
