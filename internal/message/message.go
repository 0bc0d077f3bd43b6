// Package message defines the data types shared by the audipro client and
// the chat server.
package message

import (
	"strings"
	"time"
)

// Mode selects how the user talks to the assistant.
type Mode string

const (
	// ModeText sends typed messages as JSON.
	ModeText Mode = "text"

	// ModeAudio records microphone audio and uploads it as a multipart form.
	ModeAudio Mode = "audio"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeText || m == ModeAudio
}

const (
	// AudioField is the multipart field that carries the recorded audio.
	AudioField = "audio"

	// DefaultContentType is the media type recordings are tagged with.
	DefaultContentType = "audio/wav"

	// PendingText is displayed while a text message is being answered.
	PendingText = "..."

	// PendingAudio is displayed while a recording is being answered.
	PendingAudio = "Processing..."

	// ErrorPrefix starts every failure shown to the user.
	ErrorPrefix = "Error: "

	// EchoPrefix starts replies from the echo backend.
	EchoPrefix = "You typed: "

	// NoInputText is returned by the server for an empty text message.
	NoInputText = "No input provided."

	// AudioUnsupportedText is returned by the server when the backend cannot transcribe.
	AudioUnsupportedText = "Audio processing not implemented."
)

// ChatRequest is the JSON body of POST /chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the JSON body returned by both chat endpoints.
type ChatResponse struct {
	Response string `json:"response"`
}

// Payload is the single binary upload produced by one recording.
type Payload struct {
	// Data is the concatenation of every captured chunk, in arrival order.
	Data []byte

	// ContentType is the media type the payload is tagged with (e.g., "audio/wav").
	ContentType string

	// FileName is the name sent with the multipart part (e.g., "audio.wav").
	FileName string
}

// NewPayload builds a Payload and derives its file name from the media type.
func NewPayload(data []byte, contentType string) Payload {
	if contentType == "" {
		contentType = DefaultContentType
	}
	return Payload{
		Data:        data,
		ContentType: contentType,
		FileName:    "audio" + ExtFromContentType(contentType),
	}
}

// Message is a chat request as seen by the server, whatever transport carried it.
type Message struct {
	// ID is a unique identifier for this request (UUID).
	ID string `json:"id"`

	// Text is the typed message. Empty for audio requests.
	Text string `json:"text,omitempty"`

	// Audio is the uploaded recording. Nil for text requests.
	Audio []byte `json:"audio,omitempty"`

	// ContentType is the media type of Audio.
	ContentType string `json:"content_type,omitempty"`

	// FileName is the client-supplied name of the upload.
	FileName string `json:"file_name,omitempty"`

	// Timestamp is when the server received the request.
	Timestamp time.Time `json:"timestamp"`
}

// HasAudio reports whether the message carries an audio upload.
func (m *Message) HasAudio() bool {
	return m.Audio != nil
}

// ErrorText renders err the way failures are shown to the user.
func ErrorText(err error) string {
	return ErrorPrefix + err.Error()
}

// ExtFromContentType maps an audio media type to a file extension.
func ExtFromContentType(ct string) string {
	switch {
	case strings.Contains(ct, "wav"):
		return ".wav"
	case strings.Contains(ct, "ogg"):
		return ".ogg"
	case strings.Contains(ct, "mp3"), strings.Contains(ct, "mpeg"):
		return ".mp3"
	case strings.Contains(ct, "flac"):
		return ".flac"
	case strings.Contains(ct, "webm"):
		return ".webm"
	case strings.Contains(ct, "m4a"), strings.Contains(ct, "mp4"):
		return ".m4a"
	default:
		return ".wav"
	}
}
