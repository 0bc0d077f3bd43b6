// Package dispatch implements the chat server's request pipeline.
//
// The dispatcher receives messages from transports, transcribes audio when
// the message carries a recording, and asks the interpreter for a reply. The
// sender always receives the response through the transport that delivered
// the message.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nadzzz/audipro/internal/interpreter"
	"github.com/nadzzz/audipro/internal/message"
	"github.com/nadzzz/audipro/internal/observe"
)

var (
	// ErrEmptyInput is returned for a message with no text and no audio, or
	// a recording that transcribed to nothing.
	ErrEmptyInput = errors.New("no input provided")

	// ErrAudioUnsupported is returned when the backend cannot transcribe.
	ErrAudioUnsupported = errors.New("audio processing not implemented")
)

// Dispatcher is the central request pipeline.
type Dispatcher struct {
	interpreter interpreter.Interpreter
	metrics     *observe.Metrics
}

// New creates a new Dispatcher with the given interpreter. metrics may be nil.
func New(interp interpreter.Interpreter, metrics *observe.Metrics) *Dispatcher {
	return &Dispatcher{
		interpreter: interp,
		metrics:     metrics,
	}
}

// Handle processes a single message through the pipeline.
// This function is passed as the transport.Handler to each transport.
func (d *Dispatcher) Handle(ctx context.Context, msg *message.Message) (*message.ChatResponse, error) {
	start := time.Now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = start
	}
	logger := slog.With("message_id", msg.ID, "backend", d.interpreter.Name())

	// Step 1: Transcribe audio (if present).
	text := msg.Text
	if msg.HasAudio() {
		logger.Debug("transcribing audio", "content_type", msg.ContentType, "bytes", len(msg.Audio))
		t0 := time.Now()
		transcript, err := d.interpreter.Transcribe(ctx, msg.Audio, msg.ContentType)
		d.record(ctx, "transcribe", time.Since(t0), err)
		if errors.Is(err, interpreter.ErrTranscriptionUnsupported) {
			logger.Info("audio rejected, backend cannot transcribe")
			return nil, ErrAudioUnsupported
		}
		if err != nil {
			logger.Error("transcription failed", "error", err)
			return nil, fmt.Errorf("transcription failed: %w", err)
		}
		text = transcript
		logger.Info("transcription complete", "text_length", len(text))
	}

	if text == "" {
		return nil, ErrEmptyInput
	}

	// Step 2: Reply.
	t0 := time.Now()
	reply, err := d.interpreter.Reply(ctx, text)
	d.record(ctx, "reply", time.Since(t0), err)
	if err != nil {
		logger.Error("reply failed", "error", err)
		return nil, fmt.Errorf("reply failed: %w", err)
	}

	logger.Info("dispatch complete", "duration", time.Since(start), "reply_length", len(reply))
	return &message.ChatResponse{Response: reply}, nil
}

func (d *Dispatcher) record(ctx context.Context, stage string, dur time.Duration, err error) {
	if d.metrics == nil {
		return
	}
	if errors.Is(err, interpreter.ErrTranscriptionUnsupported) {
		err = nil
	}
	d.metrics.RecordStage(ctx, d.interpreter.Name(), stage, dur, err)
}
