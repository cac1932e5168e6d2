// Package firmware serves named firmware images for over-the-air flashing.
package firmware

import (
	"context"
	"errors"
	"strings"
)

// Ext is the file extension of firmware images.
const Ext = ".bin"

// ErrNotFound is returned when no image exists for a name.
var ErrNotFound = errors.New("firmware: not found")

// Repository looks up firmware images by application name.
type Repository interface {
	// GetByName returns the image bytes, or ErrNotFound.
	GetByName(ctx context.Context, name string) ([]byte, error)

	// List returns the names of the available images, sorted.
	List(ctx context.Context) ([]string, error)
}

// validName rejects names that could escape the image root.
func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && name != "." && name != ".."
}
