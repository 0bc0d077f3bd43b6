// Package command implements a capture.Device backed by an external recorder
// process such as arecord, sox or ffmpeg.
//
// The recorder must write audio to stdout and exit cleanly on SIGINT, which is
// how Stop asks it to finalize. Stdout is forwarded in reads of at most
// ChunkSize bytes.
//
// Recorders such as arecord start fine and then exit at once when the input
// is missing or not permitted. Open waits up to a short grace period for the
// first audio or an early exit, and a recorder that exits on its own before
// producing any audio is reported as capture.ErrDeviceUnavailable together
// with what it wrote to stderr.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/nadzzz/audipro/internal/capture"
	"github.com/nadzzz/audipro/internal/message"
)

// DefaultArgs records 16 kHz mono 16-bit WAV from the default ALSA device.
var DefaultArgs = []string{"arecord", "-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "wav"}

const (
	defaultChunkSize = 4096

	// defaultStartupGrace bounds how long Open waits for the recorder to
	// either produce audio or fail.
	defaultStartupGrace = 300 * time.Millisecond

	// stderrLimit caps how much recorder stderr is kept for error messages.
	stderrLimit = 2048
)

// Device runs a recorder command per recording.
type Device struct {
	args         []string
	chunkSize    int
	contentType  string
	startupGrace time.Duration
}

// New creates a command device. An empty args slice selects DefaultArgs.
func New(args []string, chunkSize int, contentType string) *Device {
	if len(args) == 0 {
		args = DefaultArgs
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if contentType == "" {
		contentType = message.DefaultContentType
	}
	return &Device{args: args, chunkSize: chunkSize, contentType: contentType, startupGrace: defaultStartupGrace}
}

// Name returns the device identifier.
func (d *Device) Name() string { return "command" }

// ContentType returns the media type of the recorder output.
func (d *Device) ContentType() string { return d.contentType }

// Open starts the recorder process and waits until it produces audio, exits,
// or the startup grace period passes. A recorder that exits with an error
// before producing audio yields an error wrapping capture.ErrDeviceUnavailable.
func (d *Device) Open(ctx context.Context) (capture.Stream, error) {
	path, err := exec.LookPath(d.args[0])
	if err != nil {
		return nil, capture.Unavailable(d.Name(), err)
	}

	// Not bound to ctx: Stop owns the process lifetime so the recorder can
	// flush on interrupt instead of being killed.
	cmd := exec.Command(path, d.args[1:]...)
	stderr := &boundedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, capture.Unavailable(d.Name(), err)
	}
	if err := cmd.Start(); err != nil {
		return nil, capture.Unavailable(d.Name(), err)
	}

	slog.Debug("recorder started", "command", d.args[0], "pid", cmd.Process.Pid)

	s := &stream{
		cmd:     cmd,
		chunks:  make(chan []byte),
		device:  d.Name(),
		stderr:  stderr,
		started: make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go s.pump(stdout, d.chunkSize)

	timer := time.NewTimer(d.startupGrace)
	defer timer.Stop()

	select {
	case <-s.started:
	case <-timer.C:
	case <-s.exited:
		// No chunk can have been taken yet, so the recorder produced nothing.
		if err := s.Err(); err != nil {
			return nil, err
		}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		go s.drain()
		return nil, &capture.Error{Op: "open", Device: d.Name(), Err: ctx.Err()}
	}
	return s, nil
}

type stream struct {
	cmd     *exec.Cmd
	chunks  chan []byte
	device  string
	stderr  *boundedBuffer
	started chan struct{} // closed on the first audio read
	exited  chan struct{} // closed once the recorder is reaped and err is set

	mu       sync.Mutex
	stopping bool
	err      error
}

func (s *stream) Chunks() <-chan []byte { return s.chunks }

func (s *stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return nil
	}
	s.stopping = true
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return &capture.Error{Op: "stop", Device: s.device, Err: err}
	}
	return nil
}

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) drain() {
	for range s.chunks {
	}
}

func (s *stream) pump(r io.Reader, size int) {
	defer close(s.chunks)
	defer close(s.exited)

	var (
		readErr  error
		produced bool
	)
	for {
		buf := make([]byte, size)
		n, err := r.Read(buf)
		if n > 0 {
			if !produced {
				produced = true
				close(s.started)
			}
			s.chunks <- buf[:n]
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}

	waitErr := s.cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case readErr != nil:
		s.err = &capture.Error{Op: "read", Device: s.device, Err: readErr}
	case waitErr != nil && !s.stopping && !produced:
		// The recorder could not open the input (absent, busy, or denied).
		s.err = capture.Unavailable(s.device, s.exitError(waitErr))
	case waitErr != nil && !s.stopping:
		// The recorder died on its own, e.g. the device vanished mid-capture.
		s.err = &capture.Error{Op: "read", Device: s.device, Err: s.exitError(waitErr)}
	}
}

func (s *stream) exitError(waitErr error) error {
	if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
		return fmt.Errorf("recorder exited: %w: %s", waitErr, msg)
	}
	return fmt.Errorf("recorder exited: %w", waitErr)
}

// boundedBuffer keeps the first limit bytes written to it and drops the rest.
type boundedBuffer struct {
	limit int

	mu  sync.Mutex
	buf []byte
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - len(b.buf); room > 0 {
		b.buf = append(b.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
