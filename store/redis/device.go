package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/sparkcloud/device"
)

// GetAttributes returns a device record.
func (s *Store) GetAttributes(ctx context.Context, deviceID string) (*device.Attributes, error) {
	var attrs device.Attributes
	if err := s.getEntity(ctx, entityKey(prefixDevice, deviceID), &attrs); err != nil {
		if isRedisNil(err) {
			return nil, device.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("sparkcloud/redis: get device: %w", err)
	}
	return &attrs, nil
}

// SaveAttributes upserts a device record and moves it between owner
// indexes when the owner changed.
func (s *Store) SaveAttributes(ctx context.Context, attrs *device.Attributes) error {
	raw, err := marshal(attrs)
	if err != nil {
		return err
	}

	prev, err := s.GetAttributes(ctx, attrs.DeviceID)
	if err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, entityKey(prefixDevice, attrs.DeviceID), raw, 0)
		if prev != nil && prev.OwnerID != "" && prev.OwnerID != attrs.OwnerID {
			pipe.SRem(ctx, sDeviceOwner+prev.OwnerID, attrs.DeviceID)
		}
		if attrs.OwnerID != "" {
			pipe.SAdd(ctx, sDeviceOwner+attrs.OwnerID, attrs.DeviceID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sparkcloud/redis: save device: %w", err)
	}
	return nil
}

// ListAttributes returns the devices owned by ownerID, sorted by ID.
func (s *Store) ListAttributes(ctx context.Context, ownerID string) ([]*device.Attributes, error) {
	ids, err := s.rdb.SMembers(ctx, sDeviceOwner+ownerID).Result()
	if err != nil {
		return nil, fmt.Errorf("sparkcloud/redis: list devices: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, deviceID := range ids {
		keys[i] = entityKey(prefixDevice, deviceID)
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("sparkcloud/redis: load devices: %w", err)
	}

	out := make([]*device.Attributes, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var attrs device.Attributes
		if err := unmarshalString(raw, &attrs); err != nil {
			return nil, err
		}
		out = append(out, &attrs)
	}
	return out, nil
}

// SaveKey upserts a device public key.
func (s *Store) SaveKey(ctx context.Context, key *device.Key) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	raw, err := marshal(key)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, entityKey(prefixDeviceKey, key.DeviceID), raw, 0).Err(); err != nil {
		return fmt.Errorf("sparkcloud/redis: save device key: %w", err)
	}
	return nil
}

// GetKey returns a device public key.
func (s *Store) GetKey(ctx context.Context, deviceID string) (*device.Key, error) {
	var key device.Key
	if err := s.getEntity(ctx, entityKey(prefixDeviceKey, deviceID), &key); err != nil {
		if isRedisNil(err) {
			return nil, device.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("sparkcloud/redis: get device key: %w", err)
	}
	return &key, nil
}

func unmarshalString(raw string, dest any) error {
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("sparkcloud/redis: unmarshal entity: %w", err)
	}
	return nil
}
