// Package id defines the TypeID-based identifiers used by sparkcloud records.
//
// Webhooks and dispatch attempts carry an ID of the form "prefix_suffix"
// (UUIDv7 suffix, K-sortable, URL-safe). Device and user identifiers are
// owned by the device fleet and the identity provider and are plain strings.
package id

import (
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the record type encoded in a TypeID.
type Prefix string

// Prefix constants.
const (
	PrefixWebhook  Prefix = "hook"
	PrefixDispatch Prefix = "dsp"
)

// ID wraps a TypeID. The zero value is Nil.
//
//nolint:recvcheck // UnmarshalText needs a pointer receiver.
type ID struct {
	tid typeid.TypeID
	ok  bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates an ID with the given prefix. An invalid prefix is a
// programming error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{tid: tid, ok: true}
}

// NewWebhookID generates a webhook ID.
func NewWebhookID() ID { return New(PrefixWebhook) }

// NewDispatchID generates the ID of one webhook call.
func NewDispatchID() ID { return New(PrefixDispatch) }

// Parse parses any TypeID string.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, errors.New("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, ok: true}, nil
}

// ParseWebhookID parses s and requires the "hook" prefix.
func ParseWebhookID(s string) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != PrefixWebhook {
		return Nil, fmt.Errorf("id: %q is not a webhook ID", s)
	}
	return parsed, nil
}

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.ok {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the prefix of i, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.ok {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return !i.ok }

// MarshalText implements encoding.TextMarshaler. Nil encodes as "".
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
