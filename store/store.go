// Package store defines the composite Store interface for all sparkcloud
// persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them, so a backend implements every subsystem in one place.
package store

import (
	"context"
	"errors"

	"github.com/xraph/sparkcloud/device"
	"github.com/xraph/sparkcloud/webhook"
)

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("store: closed")

// Store is the aggregate persistence interface.
type Store interface {
	webhook.Store
	device.Store

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}
