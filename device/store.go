package device

import "context"

// Store defines the persistence contract for device attributes and keys.
type Store interface {
	// GetAttributes returns a device record, or ErrDeviceNotFound.
	GetAttributes(ctx context.Context, deviceID string) (*Attributes, error)

	// SaveAttributes inserts or replaces a device record.
	SaveAttributes(ctx context.Context, attrs *Attributes) error

	// ListAttributes returns the devices owned by ownerID, sorted by ID.
	ListAttributes(ctx context.Context, ownerID string) ([]*Attributes, error)

	// SaveKey inserts or replaces a device public key.
	SaveKey(ctx context.Context, key *Key) error

	// GetKey returns the public key of a device, or ErrDeviceNotFound.
	GetKey(ctx context.Context, deviceID string) (*Key, error)
}
