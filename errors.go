package sparkcloud

import (
	"errors"

	"github.com/xraph/sparkcloud/device"
	"github.com/xraph/sparkcloud/store"
	"github.com/xraph/sparkcloud/webhook"
)

// Sentinel errors returned by Server operations.
var (
	// ErrNoStore is returned when a Server is created without a store.
	ErrNoStore = errors.New("sparkcloud: store is required")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("sparkcloud: server already started")

	// ErrNotStarted is returned when Stop is called before Start.
	ErrNotStarted = errors.New("sparkcloud: server not started")
)

// Errors of the component packages, re-exported for callers that only import
// the root package.
var (
	ErrWebhookNotFound  = webhook.ErrNotFound
	ErrDeviceNotFound   = device.ErrDeviceNotFound
	ErrDeviceClaimed    = device.ErrDeviceClaimed
	ErrDeviceOffline    = device.ErrDeviceOffline
	ErrFirmwareNotFound = device.ErrFirmwareNotFound
	ErrStoreClosed      = store.ErrClosed
)
