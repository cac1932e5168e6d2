package device

import (
	"context"
	"time"
)

// Status is the liveness of a connected device.
type Status struct {
	Connected bool
	LastPing  time.Time
}

// Description lists what a device exposes to the cloud.
type Description struct {
	Functions []string
	Variables map[string]string // variable name -> type
}

// Remote is a live connection to one device.
type Remote interface {
	Ping() Status
	Describe(ctx context.Context) (*Description, error)
	CallFunction(ctx context.Context, name string, args map[string]string) (int, error)
	GetVariableValue(ctx context.Context, name string) (any, error)
	Flash(ctx context.Context, binary []byte) (string, error)
	RaiseYourHand(ctx context.Context, show bool) error
}

// Server looks up connected devices.
type Server interface {
	// Device returns the live connection for deviceID, or false if the device
	// is not connected.
	Device(deviceID string) (Remote, bool)
}
