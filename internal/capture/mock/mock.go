// Package mock provides a scriptable capture.Device for tests.
package mock

import (
	"context"
	"sync"

	"github.com/nadzzz/audipro/internal/capture"
	"github.com/nadzzz/audipro/internal/message"
)

// Device records every Open call and hands out controllable streams.
type Device struct {
	// OpenErr, when set, is returned by Open instead of a stream.
	OpenErr error

	// Trailing chunks are emitted after Stop is called and before the
	// stream finalizes, like a recorder flushing its buffer.
	Trailing [][]byte

	// FinalErr is reported by Err once the stream has finalized.
	FinalErr error

	// Type overrides the content type. Defaults to audio/wav.
	Type string

	mu      sync.Mutex
	streams []*Stream
}

// Name returns "mock".
func (d *Device) Name() string { return "mock" }

// ContentType returns Type or audio/wav.
func (d *Device) ContentType() string {
	if d.Type != "" {
		return d.Type
	}
	return message.DefaultContentType
}

// Open returns OpenErr or a new Stream.
func (d *Device) Open(_ context.Context) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	s := &Stream{
		chunks:   make(chan []byte, 64),
		trailing: d.Trailing,
		finalErr: d.FinalErr,
		release:  make(chan struct{}),
	}
	close(s.release)
	d.streams = append(d.streams, s)
	return s, nil
}

// Opens returns how many streams were opened.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// Last returns the most recently opened stream, or nil.
func (d *Device) Last() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// Stream is a capture.Stream driven by the test.
type Stream struct {
	chunks   chan []byte
	trailing [][]byte
	finalErr error
	release  chan struct{}

	mu      sync.Mutex
	stopped bool
	closed  bool
	stops   int
}

// Chunks implements capture.Stream.
func (s *Stream) Chunks() <-chan []byte { return s.chunks }

// Emit delivers one chunk as if the driver produced it. It is a no-op once
// the stream has finalized.
func (s *Stream) Emit(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.chunks <- chunk
}

// Hold delays finalization after Stop until Release is called.
func (s *Stream) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release = make(chan struct{})
}

// Release lets a held stream finalize.
func (s *Stream) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.release:
	default:
		close(s.release)
	}
}

// Stop implements capture.Stream. Trailing chunks are flushed and the stream
// closes asynchronously, after Release if the stream is held.
func (s *Stream) Stop() error {
	s.mu.Lock()
	s.stops++
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	release := s.release
	s.mu.Unlock()

	go func() {
		for _, c := range s.trailing {
			s.Emit(c)
		}
		<-release
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.chunks)
		}
		s.mu.Unlock()
	}()
	return nil
}

// End finalizes the stream without a Stop request, as when the recorder dies
// or the microphone is unplugged. err, if non-nil, replaces FinalErr.
func (s *Stream) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err != nil {
		s.finalErr = err
	}
	s.closed = true
	close(s.chunks)
}

// Stops returns how many times Stop was called.
func (s *Stream) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// Err implements capture.Stream.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalErr
}
