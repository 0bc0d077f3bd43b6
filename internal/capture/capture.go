// Package capture defines the interface for audio input devices.
//
// A Device hands out one Stream per recording. The stream delivers chunks of
// captured audio on its own schedule; chunk size and cadence belong to the
// device. Closing the chunk channel is the device's "finalized" notification:
// no chunk is ever sent after it, and Err is only meaningful once it happened.
package capture

import (
	"context"
	"errors"
	"fmt"
)

// ErrDeviceUnavailable is returned when the input device cannot be opened:
// permission denied, device absent, or recorder binary missing.
var ErrDeviceUnavailable = errors.New("audio input device unavailable")

// Device opens recording streams.
type Device interface {
	// Name returns the device identifier used in logs (e.g., "command", "file").
	Name() string

	// ContentType returns the media type of the produced audio (e.g., "audio/wav").
	ContentType() string

	// Open requests exclusive access to the input and starts capturing.
	Open(ctx context.Context) (Stream, error)
}

// Stream is one active capture.
type Stream interface {
	// Chunks delivers captured audio in production order. It is closed
	// exactly once, after the last chunk.
	Chunks() <-chan []byte

	// Stop asks the device to finalize. It returns without waiting; the
	// caller observes completion through Chunks being closed. Safe to call
	// more than once.
	Stop() error

	// Err reports a capture failure. Valid after Chunks has been closed.
	Err() error
}

// Error describes a failed device operation.
type Error struct {
	Op     string // "open", "read", "stop"
	Device string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("capture %s %s: %v", e.Device, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Unavailable wraps err so that it matches ErrDeviceUnavailable.
func Unavailable(device string, err error) error {
	return &Error{Op: "open", Device: device, Err: fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)}
}
