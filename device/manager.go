package device

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/sparkcloud/firmware"
)

// DefaultMaxWorkers bounds the goroutines GetAll uses to merge live state.
const DefaultMaxWorkers = 8

// Manager implements the owner-facing device operations.
type Manager struct {
	store    Store
	server   Server
	firmware firmware.Repository
	logger   *slog.Logger
	workers  int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithMaxWorkers bounds the concurrency of GetAll.
func WithMaxWorkers(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// NewManager creates a device manager. repo may be nil, in which case
// FlashKnownApp always reports ErrFirmwareNotFound.
func NewManager(store Store, server Server, repo firmware.Repository, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		server:   server,
		firmware: repo,
		logger:   slog.Default(),
		workers:  DefaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Claim assigns an unowned device to userID.
func (m *Manager) Claim(ctx context.Context, deviceID, userID string) (*Attributes, error) {
	attrs, err := m.store.GetAttributes(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if attrs.OwnerID != "" && attrs.OwnerID != userID {
		return nil, ErrDeviceClaimed
	}

	attrs.OwnerID = userID
	if err := m.store.SaveAttributes(ctx, attrs); err != nil {
		return nil, fmt.Errorf("device: claim %s: %w", deviceID, err)
	}

	m.logger.InfoContext(ctx, "device claimed", "device_id", deviceID, "user_id", userID)
	return attrs, nil
}

// Unclaim removes userID's ownership of a device.
func (m *Manager) Unclaim(ctx context.Context, deviceID, userID string) (*Attributes, error) {
	attrs, err := m.owned(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}

	attrs.OwnerID = ""
	if err := m.store.SaveAttributes(ctx, attrs); err != nil {
		return nil, fmt.Errorf("device: unclaim %s: %w", deviceID, err)
	}

	m.logger.InfoContext(ctx, "device unclaimed", "device_id", deviceID, "user_id", userID)
	return attrs, nil
}

// GetByID returns a device owned by userID with its connection status.
func (m *Manager) GetByID(ctx context.Context, deviceID, userID string) (*Device, error) {
	attrs, err := m.owned(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}
	return m.withStatus(attrs), nil
}

// GetDetailsByID is GetByID plus the functions and variables the device
// exposes. The record and the description are fetched concurrently.
func (m *Manager) GetDetailsByID(ctx context.Context, deviceID, userID string) (*Device, error) {
	var (
		attrs *Attributes
		desc  *Description
	)

	remote, online := m.server.Device(deviceID)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		a, err := m.owned(egCtx, deviceID, userID)
		attrs = a
		return err
	})
	if online {
		eg.Go(func() error {
			d, err := remote.Describe(egCtx)
			if err != nil {
				m.logger.WarnContext(egCtx, "device describe failed",
					"device_id", deviceID,
					"error", err,
				)
				return nil
			}
			desc = d
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	dev := m.withStatus(attrs)
	if desc != nil {
		dev.Functions = desc.Functions
		dev.Variables = desc.Variables
	}
	return dev, nil
}

// GetAll returns every device owned by userID with its connection status.
func (m *Manager) GetAll(ctx context.Context, userID string) ([]*Device, error) {
	list, err := m.store.ListAttributes(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]*Device, len(list))

	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(m.workers)
	for i, attrs := range list {
		eg.Go(func() error {
			out[i] = m.withStatus(attrs)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CallFunction invokes a cloud function on a device owned by userID.
func (m *Manager) CallFunction(ctx context.Context, deviceID, userID, name string, args map[string]string) (int, error) {
	remote, err := m.connected(ctx, deviceID, userID)
	if err != nil {
		return 0, err
	}
	return remote.CallFunction(ctx, name, args)
}

// GetVariableValue reads a cloud variable from a device owned by userID.
func (m *Manager) GetVariableValue(ctx context.Context, deviceID, userID, name string) (any, error) {
	remote, err := m.connected(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}
	return remote.GetVariableValue(ctx, name)
}

// FlashBinary sends a firmware image to a connected device.
func (m *Manager) FlashBinary(ctx context.Context, deviceID, userID string, binary []byte) (string, error) {
	remote, err := m.connected(ctx, deviceID, userID)
	if err != nil {
		return "", err
	}

	status, err := remote.Flash(ctx, binary)
	if err != nil {
		return "", err
	}

	m.logger.InfoContext(ctx, "device flashed",
		"device_id", deviceID,
		"bytes", len(binary),
		"status", status,
	)
	return status, nil
}

// FlashKnownApp flashes a named image from the firmware repository.
func (m *Manager) FlashKnownApp(ctx context.Context, deviceID, userID, appName string) (string, error) {
	if _, err := m.owned(ctx, deviceID, userID); err != nil {
		return "", err
	}

	if m.firmware == nil {
		return "", fmt.Errorf("%w: %s", ErrFirmwareNotFound, appName)
	}
	binary, err := m.firmware.GetByName(ctx, appName)
	if errors.Is(err, firmware.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrFirmwareNotFound, appName)
	}
	if err != nil {
		return "", err
	}

	return m.FlashBinary(ctx, deviceID, userID, binary)
}

// Provision registers a device public key and assigns the device to userID.
func (m *Manager) Provision(ctx context.Context, deviceID, userID, publicKey string) (*Device, error) {
	if err := validatePublicKey(publicKey); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := m.store.SaveKey(ctx, &Key{DeviceID: deviceID, PublicKey: publicKey, CreatedAt: now}); err != nil {
		return nil, fmt.Errorf("device: save key %s: %w", deviceID, err)
	}

	attrs, err := m.store.GetAttributes(ctx, deviceID)
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		attrs = &Attributes{DeviceID: deviceID}
	case err != nil:
		return nil, err
	}
	attrs.OwnerID = userID
	attrs.Registrar = userID
	attrs.Timestamp = now

	if err := m.store.SaveAttributes(ctx, attrs); err != nil {
		return nil, fmt.Errorf("device: provision %s: %w", deviceID, err)
	}

	m.logger.InfoContext(ctx, "device provisioned", "device_id", deviceID, "user_id", userID)
	return m.GetByID(ctx, deviceID, userID)
}

// RaiseYourHand toggles the signal LED of a connected device.
func (m *Manager) RaiseYourHand(ctx context.Context, deviceID, userID string, show bool) error {
	remote, err := m.connected(ctx, deviceID, userID)
	if err != nil {
		return err
	}
	return remote.RaiseYourHand(ctx, show)
}

// Rename changes the display name of a device owned by userID.
func (m *Manager) Rename(ctx context.Context, deviceID, userID, name string) (*Attributes, error) {
	attrs, err := m.owned(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}

	attrs.Name = name
	if err := m.store.SaveAttributes(ctx, attrs); err != nil {
		return nil, fmt.Errorf("device: rename %s: %w", deviceID, err)
	}
	return attrs, nil
}

// owned returns the record of deviceID if userID owns it.
func (m *Manager) owned(ctx context.Context, deviceID, userID string) (*Attributes, error) {
	attrs, err := m.store.GetAttributes(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if attrs.OwnerID != userID {
		return nil, ErrDeviceNotFound
	}
	return attrs, nil
}

func (m *Manager) connected(ctx context.Context, deviceID, userID string) (Remote, error) {
	if _, err := m.owned(ctx, deviceID, userID); err != nil {
		return nil, err
	}
	remote, ok := m.server.Device(deviceID)
	if !ok {
		return nil, ErrDeviceOffline
	}
	return remote, nil
}

func (m *Manager) withStatus(attrs *Attributes) *Device {
	dev := &Device{Attributes: *attrs}
	if remote, ok := m.server.Device(attrs.DeviceID); ok {
		st := remote.Ping()
		dev.Connected = st.Connected
		if !st.LastPing.IsZero() {
			dev.LastHeard = st.LastPing
		}
	}
	return dev
}

// validatePublicKey accepts PEM-encoded PKIX or PKCS#1 public keys.
func validatePublicKey(s string) error {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return fmt.Errorf("%w: no PEM block", ErrInvalidPublicKey)
	}

	if _, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		return nil
	}
	if _, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return nil
	}
	return fmt.Errorf("%w: not a public key", ErrInvalidPublicKey)
}
