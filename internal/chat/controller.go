// Package chat implements the recording session controller: it owns the
// microphone capture lifecycle of one chat view and hands the result to the
// remote chat endpoint.
//
// Capture runs as a producer/consumer pair. The device produces chunks on its
// own goroutine; a collector goroutine appends them to the session in arrival
// order and closes a done channel once the device signals finalization by
// closing its chunk channel. StopRecording waits on that done channel before
// it reads the buffer, so a chunk still in flight when the user pressed stop
// is never lost.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nadzzz/audipro/internal/capture"
	"github.com/nadzzz/audipro/internal/message"
	"github.com/nadzzz/audipro/internal/session"
)

var errDetached = errors.New("chunk from a detached stream")

// Submitter delivers messages to the remote chat service.
type Submitter interface {
	Chat(ctx context.Context, text string) (string, error)
	ChatAudio(ctx context.Context, p message.Payload) (string, error)
}

// Listener is called after every visible change of the session.
type Listener func(session.Snapshot)

// Controller drives one chat session.
type Controller struct {
	device    capture.Device
	submitter Submitter

	mu        sync.Mutex
	session   *session.Session
	stream    capture.Stream
	collected chan struct{}
	listeners []Listener
}

// New creates a controller with a fresh text-mode session.
func New(device capture.Device, submitter Submitter) *Controller {
	return &Controller{
		device:    device,
		submitter: submitter,
		session:   session.New(),
	}
}

// Subscribe registers l for session updates.
func (c *Controller) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() session.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Snapshot()
}

// SetMode switches between text and audio input while idle.
func (c *Controller) SetMode(m message.Mode) error {
	return c.update(func(s *session.Session) error { return s.SetMode(m) })
}

// StartRecording opens the input device and starts buffering chunks.
//
// It fails with session.ErrInvalidTransition when a recording or submission
// is already in progress. When the device cannot be opened the session goes
// back to idle, the failure becomes the visible response, and the returned
// error wraps capture.ErrDeviceUnavailable.
func (c *Controller) StartRecording(ctx context.Context) error {
	if err := c.update(func(s *session.Session) error { return s.BeginRecording() }); err != nil {
		return err
	}

	logger := c.logger()
	stream, err := c.device.Open(ctx)
	if err != nil {
		err = fmt.Errorf("microphone access failed: %w", err)
		logger.Warn("recording could not start", "device", c.device.Name(), "error", err)
		_ = c.update(func(s *session.Session) error { return s.Fail(err) })
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.stream = stream
	c.collected = done
	c.mu.Unlock()

	go c.collect(stream, done)

	logger.Info("recording started", "device", c.device.Name())
	return nil
}

// collect is the single consumer of the device's chunk channel. When the
// device finalizes before a stop was requested, the recording has ended on its
// own and the session is failed with the device's error.
func (c *Controller) collect(stream capture.Stream, done chan struct{}) {
	defer close(done)
	received := 0
	for chunk := range stream.Chunks() {
		c.mu.Lock()
		var err error
		if c.stream == stream {
			err = c.session.AppendChunk(chunk)
		} else {
			err = errDetached
		}
		c.mu.Unlock()
		if err != nil {
			// The recording was abandoned; keep draining so the device can finish.
			slog.Debug("dropping chunk", "bytes", len(chunk), "error", err)
			continue
		}
		received++
	}

	c.mu.Lock()
	if c.stream != stream || !c.session.Recording() {
		c.mu.Unlock()
		return
	}
	err := c.interrupted(stream.Err(), received)
	c.stream, c.collected = nil, nil
	_ = c.session.Fail(err)
	c.mu.Unlock()

	c.logger().Warn("recording ended before stop", "device", c.device.Name(), "chunks", received, "error", err)
	c.notify()
}

// interrupted builds the error for a recording the device ended by itself.
func (c *Controller) interrupted(err error, received int) error {
	if err == nil {
		err = &capture.Error{Op: "read", Device: c.device.Name(), Err: errors.New("input closed unexpectedly")}
	}
	if received == 0 {
		if !errors.Is(err, capture.ErrDeviceUnavailable) {
			err = capture.Unavailable(c.device.Name(), err)
		}
		return fmt.Errorf("microphone access failed: %w", err)
	}
	return fmt.Errorf("recording failed: %w", err)
}

// CancelRecording stops the device and discards the recording without
// sending it. The session returns to idle with no response. It fails with
// session.ErrInvalidTransition when no recording is active.
func (c *Controller) CancelRecording() error {
	c.mu.Lock()
	if !c.session.Recording() || c.stream == nil {
		state := c.session.State()
		c.mu.Unlock()
		return fmt.Errorf("%w: no recording to cancel while %s", session.ErrInvalidTransition, state)
	}
	stream := c.stream
	c.stream, c.collected = nil, nil
	err := c.session.Discard()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if serr := stream.Stop(); serr != nil {
		c.logger().Warn("device stop failed while cancelling", "error", serr)
	}
	c.logger().Info("recording discarded", "device", c.device.Name())
	c.notify()
	return nil
}

// StopRecording asks the device to finalize, waits for it, and submits the
// concatenated recording. It returns the reply text and the submission error,
// if any; either way the outcome is also the session's visible response.
//
// Calling it without an active recording fails with
// session.ErrInvalidTransition and sends nothing.
func (c *Controller) StopRecording(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.session.Recording() && c.stream == nil {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: device is still opening", session.ErrInvalidTransition)
	}
	if err := c.session.RequestStop(); err != nil {
		c.mu.Unlock()
		return "", err
	}
	stream, done := c.stream, c.collected
	c.mu.Unlock()
	c.notify()

	logger := c.logger()

	if err := stream.Stop(); err != nil {
		logger.Warn("device stop failed, waiting for finalize anyway", "error", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		err := fmt.Errorf("waiting for recording to finalize: %w", ctx.Err())
		c.abandon(err)
		return "", err
	}

	if err := stream.Err(); err != nil {
		err = fmt.Errorf("recording failed: %w", err)
		logger.Warn("recording failed", "error", err)
		c.abandon(err)
		return "", err
	}

	var payload message.Payload
	err := c.update(func(s *session.Session) error {
		var ferr error
		payload, ferr = s.Finalize(c.device.ContentType())
		if ferr == nil {
			c.stream, c.collected = nil, nil
		}
		return ferr
	})
	if err != nil {
		return "", err
	}

	logger.Info("recording finalized", "bytes", len(payload.Data), "content_type", payload.ContentType)

	reply, err := c.submitter.ChatAudio(ctx, payload)
	return c.complete(logger, reply, err)
}

// SubmitText sends a typed message. Input that is empty after trimming is
// ignored: nothing is sent, the session is unchanged and no error is
// returned. Otherwise text is sent exactly as typed.
func (c *Controller) SubmitText(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if err := c.update(func(s *session.Session) error { return s.BeginText() }); err != nil {
		return "", err
	}

	logger := c.logger()
	logger.Debug("submitting text", "length", len(text))

	reply, err := c.submitter.Chat(ctx, text)
	return c.complete(logger, reply, err)
}

// abandon detaches the current stream and fails the recording with err.
func (c *Controller) abandon(err error) {
	_ = c.update(func(s *session.Session) error {
		c.stream, c.collected = nil, nil
		return s.Fail(err)
	})
}

func (c *Controller) complete(logger *slog.Logger, reply string, err error) (string, error) {
	if err != nil {
		logger.Error("chat request failed", "error", err)
	}
	if uerr := c.update(func(s *session.Session) error { return s.Complete(reply, err) }); uerr != nil {
		return "", uerr
	}
	if err != nil {
		return "", err
	}
	logger.Info("chat reply received", "length", len(reply))
	return reply, nil
}

// update applies fn under the lock and notifies listeners if it succeeded.
func (c *Controller) update(fn func(s *session.Session) error) error {
	c.mu.Lock()
	err := fn(c.session)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.notify()
	return nil
}

func (c *Controller) notify() {
	c.mu.Lock()
	snap := c.session.Snapshot()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func (c *Controller) logger() *slog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slog.With("session_id", c.session.ID(), "mode", c.session.Mode())
}
