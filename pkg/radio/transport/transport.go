// Package transport owns the physical link to the radio. The device exposes
// exactly three primitives: write one outbound record, read one inbound
// record (or nothing), and a payload-less "data available" notification.
// Everything above this package is transport-agnostic.
package transport

import (
	"context"
	"errors"
)

var (
	ErrNotConnected     = errors.New("transport not connected")
	ErrServiceNotFound  = errors.New("radio service not found on device")
	ErrDeviceNotFound   = errors.New("radio device not found")
	ErrAlreadyConnected = errors.New("transport already connected")
)

// Transport is a single half-duplex link to the radio. Implementations do
// not serialize callers; the client guarantees only one operation is in
// flight at a time.
type Transport interface {
	// Connect opens the link: connects, discovers the radio service and its
	// characteristics, and negotiates the MTU best-effort. A missing service
	// is fatal; a failed MTU negotiation is not.
	Connect(ctx context.Context) error

	// Close tears the link down. Safe to call on a closed transport.
	Close() error

	// Write sends one complete outbound record.
	Write(data []byte) error

	// Read returns one complete inbound record, or an empty slice when the
	// device has nothing pending.
	Read() ([]byte, error)

	// SubscribeAvailable registers the callback invoked whenever the device
	// signals that inbound data is waiting. The signal carries no payload;
	// the callers reacts by draining Read until empty.
	SubscribeAvailable(fn func()) error

	// Connected reports whether the link is currently up.
	Connected() bool

	// Address returns the stable peer identifier used for reconnection.
	Address() string
}
