package device

import "sync"

// Fleet is an in-process Server that device connections attach to.
type Fleet struct {
	mu      sync.RWMutex
	devices map[string]Remote
}

var _ Server = (*Fleet)(nil)

// NewFleet returns an empty fleet.
func NewFleet() *Fleet {
	return &Fleet{devices: make(map[string]Remote)}
}

// Attach registers a live connection, replacing any previous one.
func (f *Fleet) Attach(deviceID string, r Remote) {
	f.mu.Lock()
	f.devices[deviceID] = r
	f.mu.Unlock()
}

// Detach drops the connection of deviceID.
func (f *Fleet) Detach(deviceID string) {
	f.mu.Lock()
	delete(f.devices, deviceID)
	f.mu.Unlock()
}

// Device implements Server.
func (f *Fleet) Device(deviceID string) (Remote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	r, ok := f.devices[deviceID]
	return r, ok
}
