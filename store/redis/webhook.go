package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/sparkcloud/id"
	"github.com/xraph/sparkcloud/internal/entity"
	"github.com/xraph/sparkcloud/webhook"
)

// webhookModel is the JSON representation stored in Redis.
type webhookModel struct {
	ID                 string            `json:"id"`
	OwnerID            string            `json:"owner_id"`
	Event              string            `json:"event"`
	DeviceID           string            `json:"device_id,omitempty"`
	ProductIDOrSlug    string            `json:"product_id_or_slug,omitempty"`
	URL                string            `json:"url"`
	RequestType        string            `json:"request_type"`
	Form               map[string]any    `json:"form,omitempty"`
	JSON               map[string]any    `json:"json,omitempty"`
	Query              map[string]any    `json:"query,omitempty"`
	Headers            map[string]string `json:"headers,omitempty"`
	Auth               *webhook.Auth     `json:"auth,omitempty"`
	MyDevices          bool              `json:"my_devices"`
	NoDefaults         bool              `json:"no_defaults"`
	RejectUnauthorized *bool             `json:"reject_unauthorized,omitempty"`
	ResponseTemplate   string            `json:"response_template,omitempty"`
	ResponseTopic      string            `json:"response_topic,omitempty"`
	ErrorResponseTopic string            `json:"error_response_topic,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func toWebhookModel(wh *webhook.Webhook) *webhookModel {
	return &webhookModel{
		ID:                 wh.ID.String(),
		OwnerID:            wh.OwnerID,
		Event:              wh.Event,
		DeviceID:           wh.DeviceID,
		ProductIDOrSlug:    wh.ProductIDOrSlug,
		URL:                wh.URL,
		RequestType:        wh.RequestType,
		Form:               wh.Form,
		JSON:               wh.JSON,
		Query:              wh.Query,
		Headers:            wh.Headers,
		Auth:               wh.Auth,
		MyDevices:          wh.MyDevices,
		NoDefaults:         wh.NoDefaults,
		RejectUnauthorized: wh.RejectUnauthorized,
		ResponseTemplate:   wh.ResponseTemplate,
		ResponseTopic:      wh.ResponseTopic,
		ErrorResponseTopic: wh.ErrorResponseTopic,
		CreatedAt:          wh.CreatedAt,
		UpdatedAt:          wh.UpdatedAt,
	}
}

func fromWebhookModel(m *webhookModel) (*webhook.Webhook, error) {
	hookID, err := id.ParseWebhookID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.ID, err)
	}
	return &webhook.Webhook{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                 hookID,
		OwnerID:            m.OwnerID,
		Event:              m.Event,
		DeviceID:           m.DeviceID,
		ProductIDOrSlug:    m.ProductIDOrSlug,
		URL:                m.URL,
		RequestType:        m.RequestType,
		Form:               m.Form,
		JSON:               m.JSON,
		Query:              m.Query,
		Headers:            m.Headers,
		Auth:               m.Auth,
		MyDevices:          m.MyDevices,
		NoDefaults:         m.NoDefaults,
		RejectUnauthorized: m.RejectUnauthorized,
		ResponseTemplate:   m.ResponseTemplate,
		ResponseTopic:      m.ResponseTopic,
		ErrorResponseTopic: m.ErrorResponseTopic,
	}, nil
}

// CreateWebhook stores the record and its indexes in one transaction.
func (s *Store) CreateWebhook(ctx context.Context, wh *webhook.Webhook) error {
	m := toWebhookModel(wh)
	raw, err := marshal(m)
	if err != nil {
		return err
	}

	z := goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID}
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, entityKey(prefixWebhook, m.ID), raw, 0)
		pipe.ZAdd(ctx, zWebhookAll, z)
		pipe.ZAdd(ctx, zWebhookOwner+m.OwnerID, z)
		return nil
	})
	if err != nil {
		return fmt.Errorf("sparkcloud/redis: create webhook: %w", err)
	}
	return nil
}

// GetWebhook returns a webhook by ID.
func (s *Store) GetWebhook(ctx context.Context, hookID id.ID) (*webhook.Webhook, error) {
	var m webhookModel
	if err := s.getEntity(ctx, entityKey(prefixWebhook, hookID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, webhook.ErrNotFound
		}
		return nil, fmt.Errorf("sparkcloud/redis: get webhook: %w", err)
	}
	return fromWebhookModel(&m)
}

// DeleteWebhook removes a webhook and its index entries.
func (s *Store) DeleteWebhook(ctx context.Context, hookID id.ID) error {
	wh, err := s.GetWebhook(ctx, hookID)
	if err != nil {
		return err
	}

	member := hookID.String()
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, entityKey(prefixWebhook, member))
		pipe.ZRem(ctx, zWebhookAll, member)
		pipe.ZRem(ctx, zWebhookOwner+wh.OwnerID, member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("sparkcloud/redis: delete webhook: %w", err)
	}
	return nil
}

// ListWebhooks returns the webhooks of ownerID, or all when ownerID is
// empty, oldest first.
func (s *Store) ListWebhooks(ctx context.Context, ownerID string) ([]*webhook.Webhook, error) {
	index := zWebhookAll
	if ownerID != "" {
		index = zWebhookOwner + ownerID
	}

	ids, err := s.rdb.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("sparkcloud/redis: list webhooks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, hookID := range ids {
		keys[i] = entityKey(prefixWebhook, hookID)
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("sparkcloud/redis: load webhooks: %w", err)
	}

	out := make([]*webhook.Webhook, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // index entry outlived its record
		}
		var m webhookModel
		if err := unmarshalString(raw, &m); err != nil {
			return nil, err
		}
		wh, err := fromWebhookModel(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, nil
}
