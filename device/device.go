// Package device manages device ownership, attributes and the cloud-side
// operations forwarded to connected devices.
package device

import (
	"errors"
	"time"
)

// Errors returned by the device manager.
var (
	ErrDeviceNotFound   = errors.New("device: no device found")
	ErrDeviceClaimed    = errors.New("device: the device belongs to someone else")
	ErrDeviceOffline    = errors.New("device: could not get device for ID")
	ErrFirmwareNotFound = errors.New("device: firmware not found")
	ErrInvalidPublicKey = errors.New("device: invalid public key")

	// Remote implementations return these for names the device does not
	// expose.
	ErrUnknownFunction = errors.New("device: function not found")
	ErrUnknownVariable = errors.New("device: variable not found")
)

// Attributes is the persisted record of a device.
type Attributes struct {
	DeviceID           string    `json:"deviceID"`
	Name               string    `json:"name"`
	OwnerID            string    `json:"ownerID,omitempty"`
	Registrar          string    `json:"registrar,omitempty"`
	IP                 string    `json:"ip,omitempty"`
	ProductID          int       `json:"particleProductId"`
	FirmwareVersion    int       `json:"productFirmwareVersion"`
	LastHeard          time.Time `json:"lastHeard"`
	Timestamp          time.Time `json:"timestamp"`
	IsCellular         bool      `json:"isCellular"`
	IMEI               string    `json:"imei,omitempty"`
	LastICCID          string    `json:"last_iccid,omitempty"`
	AppHash            string    `json:"appHash,omitempty"`
	CurrentBuildTarget string    `json:"currentBuildTarget,omitempty"`
}

// Device is a device's attributes merged with its live state.
type Device struct {
	Attributes

	Connected          bool              `json:"connected"`
	Functions          []string          `json:"functions,omitempty"`
	Variables          map[string]string `json:"variables,omitempty"`
	LastFlashedAppName string            `json:"lastFlashedAppName,omitempty"`
}

// Key is the public key a device authenticates with.
type Key struct {
	DeviceID  string    `json:"deviceID"`
	PublicKey string    `json:"publicKey"`
	CreatedAt time.Time `json:"created_at"`
}
