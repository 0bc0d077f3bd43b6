// Package transport defines the interface for pluggable chat transports.
//
// Each transport (HTTP, gRPC) implements this interface and hands incoming
// messages to the dispatcher. The dispatcher doesn't care how messages
// arrive; it only works with the Transport contract.
package transport

import (
	"context"
	"errors"

	"github.com/nadzzz/audipro/internal/dispatch"
	"github.com/nadzzz/audipro/internal/message"
	"github.com/nadzzz/audipro/internal/observe"
)

// Handler is a function that processes an incoming message and returns the reply.
// The dispatcher provides this handler to each transport.
type Handler func(ctx context.Context, msg *message.Message) (*message.ChatResponse, error)

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "http", "grpc").
	Name() string

	// Listen starts accepting incoming messages and dispatches them to the handler.
	// It blocks until the context is cancelled.
	Listen(ctx context.Context, handler Handler) error

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}

// Outcome classifies a handler error as a request status for metrics and
// the transport's error mapping.
func Outcome(err error) string {
	switch {
	case err == nil:
		return observe.StatusOK
	case errors.Is(err, dispatch.ErrEmptyInput):
		return observe.StatusBadRequest
	case errors.Is(err, dispatch.ErrAudioUnsupported):
		return observe.StatusUnsupported
	default:
		return observe.StatusError
	}
}

// Kind returns "audio" or "text" for metrics.
func Kind(msg *message.Message) string {
	if msg.HasAudio() {
		return string(message.ModeAudio)
	}
	return string(message.ModeText)
}
