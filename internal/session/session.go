// Package session holds the state of one chat view: the input mode, the
// recording lifecycle, the buffered audio chunks and the last response shown
// to the user.
//
// All fields are private and change only through transitions, so invalid
// combinations (chunks buffered while idle, a mode switch mid-recording)
// cannot be expressed. A Session is not safe for concurrent use; the owner
// serialises access.
//
//	idle --BeginRecording--> recording --RequestStop--> finalizing
//	finalizing --Finalize--> submitting --Complete--> idle
//	idle --BeginText--> submitting
//	recording|finalizing --Fail--> idle
package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nadzzz/audipro/internal/message"
)

// State is a step of the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateSubmitting:
		return "submitting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrInvalidTransition is returned when an operation's precondition does not hold.
var ErrInvalidTransition = errors.New("invalid session transition")

// Session is the explicit state of one chat view.
type Session struct {
	id       string
	mode     message.Mode
	state    State
	chunks   [][]byte
	response string
	err      error
}

// New returns an idle text-mode session with empty defaults.
func New() *Session {
	return &Session{
		id:    uuid.NewString(),
		mode:  message.ModeText,
		state: StateIdle,
	}
}

// ID returns the session identifier used for log correlation.
func (s *Session) ID() string { return s.id }

// Mode returns the current input mode.
func (s *Session) Mode() message.Mode { return s.mode }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Recording reports whether a recording is active.
func (s *Session) Recording() bool { return s.state == StateRecording }

// Response returns the text currently displayed to the user.
func (s *Session) Response() string { return s.response }

// Err returns the failure behind the current response, if any.
func (s *Session) Err() error { return s.err }

// PendingChunks returns how many chunks are buffered.
func (s *Session) PendingChunks() int { return len(s.chunks) }

// SetMode switches between text and audio input. Only allowed while idle.
func (s *Session) SetMode(m message.Mode) error {
	if !m.Valid() {
		return fmt.Errorf("unknown mode %q", m)
	}
	if s.state != StateIdle {
		return s.invalid("set mode")
	}
	s.mode = m
	return nil
}

// BeginRecording moves an idle audio session to recording, discarding any
// previous chunks and response.
func (s *Session) BeginRecording() error {
	if s.state != StateIdle || s.mode != message.ModeAudio {
		return s.invalid("start recording")
	}
	s.state = StateRecording
	s.chunks = nil
	s.response = ""
	s.err = nil
	return nil
}

// AppendChunk buffers one chunk. Chunks are accepted while recording and
// while the device is still finalizing; the slice is copied.
func (s *Session) AppendChunk(chunk []byte) error {
	if s.state != StateRecording && s.state != StateFinalizing {
		return s.invalid("append chunk")
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	s.chunks = append(s.chunks, buf)
	return nil
}

// RequestStop marks that the device has been asked to finalize.
func (s *Session) RequestStop() error {
	if s.state != StateRecording {
		return s.invalid("stop recording")
	}
	s.state = StateFinalizing
	return nil
}

// Finalize concatenates the buffered chunks into one payload, clears the
// buffer and shows the processing placeholder. It must only be called once
// the device has confirmed finalization.
func (s *Session) Finalize(contentType string) (message.Payload, error) {
	if s.state != StateFinalizing {
		return message.Payload{}, s.invalid("finalize recording")
	}
	size := 0
	for _, c := range s.chunks {
		size += len(c)
	}
	data := make([]byte, 0, size)
	for _, c := range s.chunks {
		data = append(data, c...)
	}
	s.chunks = nil
	s.state = StateSubmitting
	s.response = message.PendingAudio
	s.err = nil
	return message.NewPayload(data, contentType), nil
}

// BeginText moves an idle text session to submitting and shows the pending
// placeholder.
func (s *Session) BeginText() error {
	if s.state != StateIdle || s.mode != message.ModeText {
		return s.invalid("submit text")
	}
	s.state = StateSubmitting
	s.response = message.PendingText
	s.err = nil
	return nil
}

// Complete records the outcome of a submission and returns to idle.
func (s *Session) Complete(reply string, err error) error {
	if s.state != StateSubmitting {
		return s.invalid("complete submission")
	}
	s.state = StateIdle
	s.setOutcome(reply, err)
	return nil
}

// Fail aborts a recording, drops any buffered chunks and shows err.
func (s *Session) Fail(err error) error {
	if s.state != StateRecording && s.state != StateFinalizing {
		return s.invalid("fail recording")
	}
	s.state = StateIdle
	s.chunks = nil
	s.setOutcome("", err)
	return nil
}

// Discard abandons an active recording without an outcome: the buffered
// chunks are dropped and nothing is shown.
func (s *Session) Discard() error {
	if s.state != StateRecording {
		return s.invalid("discard recording")
	}
	s.state = StateIdle
	s.chunks = nil
	s.response = ""
	s.err = nil
	return nil
}

func (s *Session) setOutcome(reply string, err error) {
	s.err = err
	if err != nil {
		s.response = message.ErrorText(err)
		return
	}
	s.response = reply
}

func (s *Session) invalid(op string) error {
	return fmt.Errorf("%w: cannot %s while %s in %s mode", ErrInvalidTransition, op, s.state, s.mode)
}

// Snapshot is an immutable view of a session handed to observers.
type Snapshot struct {
	ID            string
	Mode          message.Mode
	State         State
	Response      string
	Err           error
	PendingChunks int
}

// Snapshot captures the current session state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:            s.id,
		Mode:          s.mode,
		State:         s.state,
		Response:      s.response,
		Err:           s.err,
		PendingChunks: len(s.chunks),
	}
}

// Recording reports whether the snapshot was taken during an active recording.
func (s Snapshot) Recording() bool { return s.State == StateRecording }
