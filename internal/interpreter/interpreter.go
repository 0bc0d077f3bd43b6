// Package interpreter defines the interface for the chat server's reply
// backends.
//
// An interpreter turns a user's text into a reply and, when it can, turns an
// uploaded recording into text first. audipro ships three backends: echo
// (no model), OpenAI-compatible (cloud), and Local (self-hosted via
// Ollama/whisper.cpp).
package interpreter

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrTranscriptionUnsupported is returned by backends that cannot turn audio
// into text.
var ErrTranscriptionUnsupported = errors.New("transcription not supported")

// Interpreter is the interface for audio transcription and reply generation.
type Interpreter interface {
	// Name returns the backend identifier (e.g., "echo", "openai", "local").
	Name() string

	// Transcribe converts audio bytes to text.
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)

	// Reply answers a single user message. Every call is independent.
	Reply(ctx context.Context, text string) (string, error)

	// Close releases any resources held by the interpreter.
	Close() error
}

// Persona holds the system prompt sent with every reply request. It can be
// replaced while requests are in flight (config hot reload).
type Persona struct {
	prompt atomic.Pointer[string]
}

// NewPersona creates a persona with the given system prompt.
func NewPersona(prompt string) *Persona {
	p := &Persona{}
	p.Set(prompt)
	return p
}

// Prompt returns the current system prompt. A nil Persona has no prompt.
func (p *Persona) Prompt() string {
	if p == nil {
		return ""
	}
	if s := p.prompt.Load(); s != nil {
		return *s
	}
	return ""
}

// Set replaces the system prompt.
func (p *Persona) Set(prompt string) {
	p.prompt.Store(&prompt)
}
