// Package file implements a capture.Device that replays an audio file, for
// headless use and scripting.
package file

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/nadzzz/audipro/internal/capture"
	"github.com/nadzzz/audipro/internal/message"
)

const defaultChunkSize = 4096

// Device streams the contents of a file as if it were being recorded.
type Device struct {
	path        string
	chunkSize   int
	contentType string
}

// New creates a file device. The content type defaults to audio/wav.
func New(path string, chunkSize int, contentType string) *Device {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if contentType == "" {
		contentType = message.DefaultContentType
	}
	return &Device{path: path, chunkSize: chunkSize, contentType: contentType}
}

// Name returns the device identifier.
func (d *Device) Name() string { return "file" }

// ContentType returns the configured media type.
func (d *Device) ContentType() string { return d.contentType }

// Open opens the file and starts streaming it.
func (d *Device) Open(_ context.Context) (capture.Stream, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, capture.Unavailable(d.Name(), err)
	}
	s := &stream{
		chunks: make(chan []byte),
		stop:   make(chan struct{}),
		device: d.Name(),
	}
	go s.pump(f, d.chunkSize)
	return s, nil
}

type stream struct {
	chunks   chan []byte
	stop     chan struct{}
	stopOnce sync.Once
	device   string

	mu  sync.Mutex
	err error
}

func (s *stream) Chunks() <-chan []byte { return s.chunks }

func (s *stream) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// pump sends the whole file, then holds the stream open until Stop so the
// recording ends when the user says so. Stopping early still flushes the rest
// of the file, the way a recorder flushes its buffer on finalize.
func (s *stream) pump(f *os.File, size int) {
	defer close(s.chunks)
	defer f.Close()

	for {
		buf := make([]byte, size)
		n, err := f.Read(buf)
		if n > 0 {
			s.chunks <- buf[:n]
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.mu.Lock()
			s.err = &capture.Error{Op: "read", Device: s.device, Err: err}
			s.mu.Unlock()
			return
		}
	}
	<-s.stop
}
