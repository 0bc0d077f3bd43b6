// Package echo implements an interpreter that answers every message with the
// message itself. It needs no model and is the default backend for local
// development.
package echo

import (
	"context"

	"github.com/nadzzz/audipro/internal/interpreter"
	"github.com/nadzzz/audipro/internal/message"
)

// Interpreter replies "You typed: <text>".
type Interpreter struct{}

// New creates an echo interpreter.
func New() *Interpreter { return &Interpreter{} }

// Name returns the backend identifier.
func (i *Interpreter) Name() string { return "echo" }

// Transcribe always fails with interpreter.ErrTranscriptionUnsupported.
func (i *Interpreter) Transcribe(context.Context, []byte, string) (string, error) {
	return "", interpreter.ErrTranscriptionUnsupported
}

// Reply echoes text back.
func (i *Interpreter) Reply(_ context.Context, text string) (string, error) {
	return message.EchoPrefix + text, nil
}

// Close is a no-op.
func (i *Interpreter) Close() error { return nil }
